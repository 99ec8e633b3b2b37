package reloc

import (
	"unsafe"

	"github.com/tmke8/uopjit/stencil"
)

// relaxX8664GOTLoad attempts to replace an indirect GOT access with a
// direct PC-relative one. value is the address of the GOT slot itself;
// the ultimate target is read through it. ok is false (with no error) when
// the relaxed target doesn't fit in range or the preceding bytes don't
// match a recognized instruction prefix — in that case the caller should
// keep using the un-relaxed value and fall through to the PC-relative
// writer, exactly as the GOT-load hole would without relaxation.
func relaxX8664GOTLoad(base []byte, hole stencil.Hole, value, location uint64) (relaxed uint64, ok bool, err error) {
	if hole.Offset < 2 {
		return 0, false, violation(hole, "GOT-load hole at offset %d has no room for a prefix", hole.Offset)
	}
	// The 8-byte word stored 4 bytes past address value holds the real
	// target plus 4; this mirrors the original's
	// `*(uint64_t *)(value + 4) - 4`, a deliberate raw deref through an
	// address the offline toolchain guarantees is readable (spec.md §9).
	relaxed = derefUint64(value+4) - 4

	rel := int64(relaxed) - int64(location)
	if rel < -(1<<31) || rel+1 >= (1<<31) {
		return 0, false, nil
	}

	prefix := base[hole.Offset-2 : hole.Offset]
	switch {
	case prefix[0] == 0x8B:
		// mov reg, [rip+AAA] -> lea reg, [rip+XXX]
		base[hole.Offset-2] = 0x8D
	case prefix[0] == 0xFF && prefix[1] == 0x15:
		// call [rip+AAA] -> nop; call XXX
		base[hole.Offset-2] = 0x90
		base[hole.Offset-1] = 0xE8
	case prefix[0] == 0xFF && prefix[1] == 0x25:
		// jmp [rip+AAA] -> nop; jmp XXX
		base[hole.Offset-2] = 0x90
		base[hole.Offset-1] = 0xE9
	default:
		return 0, false, nil
	}
	return relaxed, true, nil
}

// derefUint64 reads 8 bytes at an absolute address. Used here and again
// by the AArch64 ADRP-pair relaxation in arm64.go — the only two places
// this engine escapes Go's safe subset: the offline toolchain guarantees
// addr is readable (an open question called out in spec.md §9, treated
// here as a precondition rather than something this engine can verify).
func derefUint64(addr uint64) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(addr)))
}
