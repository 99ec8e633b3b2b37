package osmem

import "testing"

func TestAllocateRejectsNonPageMultiple(t *testing.T) {
	if _, err := Allocate(1); err == nil {
		t.Fatal("Allocate(1) should have failed: not a page multiple")
	}
	if _, err := Allocate(0); err == nil {
		t.Fatal("Allocate(0) should have failed")
	}
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	size := PageSize()
	buf, err := Allocate(size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(buf.Bytes()) != size {
		t.Fatalf("len(buf.Bytes()) = %d, want %d", len(buf.Bytes()), size)
	}
	for _, b := range buf.Bytes() {
		if b != 0 {
			t.Fatal("freshly allocated buffer must be zero-filled")
		}
	}
	buf.Bytes()[0] = 0xAB
	if err := Free(buf); err != nil {
		t.Fatalf("Free: %v", err)
	}
	// Free must be safe to call again (idempotent at this package's level;
	// jit.Free is what guarantees the executor-level idempotence).
	if err := Free(buf); err != nil {
		t.Fatalf("second Free: %v", err)
	}
}

func TestMarkExecutableZeroSizeIsNoOp(t *testing.T) {
	if err := MarkExecutable(&Buffer{}); err != nil {
		t.Fatalf("MarkExecutable on empty buffer: %v", err)
	}
	if err := MarkExecutable(nil); err != nil {
		t.Fatalf("MarkExecutable(nil): %v", err)
	}
}

func TestMarkExecutableTransitionsPermissions(t *testing.T) {
	size := PageSize()
	buf, err := Allocate(size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer Free(buf)

	// A RET-equivalent: this only needs to be valid enough to not crash if
	// ever executed, which this test does not do. It only exercises the
	// permission flip succeeding.
	buf.Bytes()[0] = 0xC3

	if err := MarkExecutable(buf); err != nil {
		t.Fatalf("MarkExecutable: %v", err)
	}
}

func TestRoundUpToPage(t *testing.T) {
	page := PageSize()
	tests := []struct{ in, want int }{
		{0, 0},
		{1, page},
		{page, page},
		{page + 1, 2 * page},
	}
	for _, tt := range tests {
		if got := RoundUpToPage(tt.in); got != tt.want {
			t.Errorf("RoundUpToPage(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
