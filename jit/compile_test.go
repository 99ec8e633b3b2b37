package jit

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tmke8/uopjit/internal/osmem"
	"github.com/tmke8/uopjit/stencil"
)

const (
	opEntry = iota
	opColdExit
	opNop
	opTarget
	opExit
	opJump
	numTestOpcodes
)

// stub builds a minimal StencilGroup: codeSize bytes of code (all zero,
// no holes — this test table never exercises the relocation engine
// itself, only the compiler's layout and wiring) and no data.
func stub(codeSize int) stencil.StencilGroup {
	return stencil.StencilGroup{Code: stencil.Stencil{Body: make([]byte, codeSize)}}
}

func testTable() *Table {
	groups := make([]stencil.StencilGroup, numTestOpcodes)
	groups[opEntry] = stub(4)
	groups[opColdExit] = stub(4)
	groups[opNop] = stub(0) // empty body, exercises the degenerate-size case
	groups[opTarget] = stub(8)
	groups[opExit] = stub(8)
	groups[opJump] = stub(8)
	return &Table{
		Groups:           groups,
		Trampoline:       stub(16),
		FatalError:       stub(16),
		TraceEntryOpcode: opEntry,
		ColdExitOpcode:   opColdExit,
	}
}

func withFakeOSMem(t *testing.T) {
	t.Helper()
	origAlloc, origMark, origFree := allocate, markExecutable, release
	t.Cleanup(func() { allocate, markExecutable, release = origAlloc, origMark, origFree })
}

func TestCompileSingleInstructionTraceFitsOnePage(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{}
	table := testTable()
	trace := []Instruction{{Opcode: opEntry, Format: FormatTarget}}

	if rc := Compile(e, table, trace); rc != 0 {
		t.Fatalf("Compile() = %d, want 0", rc)
	}
	defer Free(e)

	if got, want := int(e.JITSize), osmem.PageSize(); got != want {
		t.Errorf("JITSize = %d, want exactly one page (%d)", got, want)
	}
}

func TestCompileInstructionStartsForEmptyBodyInstruction(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{}
	table := testTable()
	trace := []Instruction{
		{Opcode: opEntry, Format: FormatTarget},
		{Opcode: opNop, Format: FormatTarget},
	}

	if rc := Compile(e, table, trace); rc != 0 {
		t.Fatalf("Compile() = %d, want 0", rc)
	}
	defer Free(e)

	// opNop has an empty body, so its instruction_starts entry coincides
	// with the entry instruction's end — both equal the trampoline's size
	// plus the (non-empty) entry instruction's own code size. Compile
	// succeeding at all exercises that bookkeeping; JITCode being non-zero
	// confirms the region was actually finalized, not just sized.
	if e.JITCode == 0 {
		t.Fatal("JITCode is zero after a successful compile")
	}
}

func TestCompileExitFormatResolvesErrorTarget(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{ExitCount: 4}
	table := testTable()
	table.Groups[opExit].Data = stencil.Stencil{
		Body:  make([]byte, 8),
		Holes: []stencil.Hole{{Offset: 0, Kind: stencil.KindAbs64, Value: stencil.ValueErrorTarget}},
	}
	trace := []Instruction{
		{Opcode: opEntry, Format: FormatTarget},
		{Opcode: opExit, Format: FormatExit, ExitIndex: 2, ErrorTarget: 0},
	}

	if rc := Compile(e, table, trace); rc != 0 {
		t.Fatalf("Compile() = %d, want 0", rc)
	}
	defer Free(e)

	// opExit's data half is the only data in the region, so it starts right
	// after all code: trampoline (16) + entry (4) + exit (8) + fatal tail (16).
	const dataStart = 16 + 4 + 8 + 16
	got := binary.LittleEndian.Uint64(e.buf.Bytes()[dataStart:])
	// instruction_starts[0] is the trampoline's code size, 16.
	if want := uint64(e.JITCode) + 16; got != want {
		t.Errorf("ERROR_TARGET patched to %#x, want %#x", got, want)
	}
}

func TestCompileExitFormatRejectsOutOfRangeExitIndex(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{ExitCount: 1}
	table := testTable()
	trace := []Instruction{
		{Opcode: opEntry, Format: FormatTarget},
		{Opcode: opExit, Format: FormatExit, ExitIndex: 5},
	}

	if rc := Compile(e, table, trace); rc != -1 {
		t.Fatalf("Compile() = %d, want -1 for an out-of-range exit index", rc)
	}
	if e.JITCode != 0 {
		t.Error("executor left wired to a region after a failed compile")
	}
}

func TestCompileJumpFormatResolvesJumpTarget(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{}
	table := testTable()
	table.Groups[opJump].Data = stencil.Stencil{
		Body:  make([]byte, 8),
		Holes: []stencil.Hole{{Offset: 0, Kind: stencil.KindAbs64, Value: stencil.ValueJumpTarget}},
	}
	trace := []Instruction{
		{Opcode: opEntry, Format: FormatTarget},
		{Opcode: opJump, Format: FormatJump, JumpTarget: 0},
	}

	if rc := Compile(e, table, trace); rc != 0 {
		t.Fatalf("Compile() = %d, want 0", rc)
	}
	defer Free(e)

	// opJump's data half is the only data in the region, so it starts right
	// after all code: trampoline (16) + entry (4) + jump (8) + fatal tail (16).
	const dataStart = 16 + 4 + 8 + 16
	got := binary.LittleEndian.Uint64(e.buf.Bytes()[dataStart:])
	// instruction_starts[0] is the trampoline's code size, 16.
	if want := uint64(e.JITCode) + 16; got != want {
		t.Errorf("JUMP_TARGET patched to %#x, want %#x", got, want)
	}
}

func TestCompileJumpFormatRejectsOutOfRangeTarget(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{}
	table := testTable()
	trace := []Instruction{
		{Opcode: opEntry, Format: FormatJump, JumpTarget: 9},
	}

	if rc := Compile(e, table, trace); rc != -1 {
		t.Fatalf("Compile() = %d, want -1 for an out-of-range jump target", rc)
	}
}

func TestCompileRejectsTraceNotStartingAtEntryOrColdExit(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{}
	table := testTable()
	trace := []Instruction{{Opcode: opNop, Format: FormatTarget}}

	if rc := Compile(e, table, trace); rc != -1 {
		t.Fatalf("Compile() = %d, want -1 for a trace not starting at entry/cold-exit", rc)
	}
}

func TestCompileMarkExecutableFailureReleasesRegionAndLeavesExecutorUntouched(t *testing.T) {
	withFakeOSMem(t)
	var freedBuf *osmem.Buffer
	markExecutable = func(buf *osmem.Buffer) error { return errors.New("simulated mprotect failure") }
	release = func(buf *osmem.Buffer) error {
		freedBuf = buf
		return osmem.Free(buf)
	}

	e := &Executor{}
	table := testTable()
	trace := []Instruction{{Opcode: opEntry, Format: FormatTarget}}

	if rc := Compile(e, table, trace); rc != -1 {
		t.Fatalf("Compile() = %d, want -1 on simulated mark-executable failure", rc)
	}
	if freedBuf == nil {
		t.Fatal("region was never released after mark-executable failure")
	}
	if e.JITCode != 0 || e.JITSideEntry != 0 || e.JITSize != 0 {
		t.Errorf("executor fields mutated despite failed compile: %+v", e)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	withFakeOSMem(t)
	e := &Executor{}
	table := testTable()
	trace := []Instruction{{Opcode: opEntry, Format: FormatTarget}}

	if rc := Compile(e, table, trace); rc != 0 {
		t.Fatalf("Compile() = %d, want 0", rc)
	}
	Free(e)
	Free(e) // must not panic or double-unmap

	if e.JITCode != 0 {
		t.Error("JITCode not cleared after Free")
	}
}

func TestFreeOnNeverCompiledExecutorIsNoOp(t *testing.T) {
	e := &Executor{}
	Free(e) // must not panic
}
