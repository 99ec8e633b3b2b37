package reloc

import (
	"github.com/tmke8/uopjit/internal/bitfield"
	"github.com/tmke8/uopjit/stencil"
)

// Instruction-class predicates, ported bit-for-bit from the masks the
// offline toolchain's relocation reference (LLD) uses to recognize each
// AArch64 encoding class — see spec.md §4.3's per-kind "verify the
// instruction is ..." assertions.
func isAArch64AddOrSub(i uint32) bool { return i&0x11C00000 == 0x11000000 }
func isAArch64ADRP(i uint32) bool     { return i&0x9F000000 == 0x90000000 }
func isAArch64Branch(i uint32) bool   { return i&0x7C000000 == 0x14000000 }
func isAArch64LdrOrStr(i uint32) bool { return i&0x3B000000 == 0x39000000 }
func isAArch64Mov(i uint32) bool      { return i&0x9F800000 == 0x92800000 }

func writeARM64Branch26(base []byte, hole stencil.Hole, value, location uint64) error {
	w := word(base, hole.Offset)
	if !isAArch64Branch(w) {
		return violation(hole, "instruction %#08x is not a branch", w)
	}
	rel := int64(value) - int64(location)
	if rel < -(1<<27) || rel >= (1<<27) {
		return violation(hole, "branch displacement %d does not fit in 28 signed bits", rel)
	}
	if bitfield.Get(uint64(rel), 0, 2) != 0 {
		return violation(hole, "branch displacement %d is not 4-byte aligned", rel)
	}
	w = bitfield.Set(w, 0, uint64(rel), 2, 26)
	putWord(base, hole.Offset, w)
	return nil
}

func writeARM64Movw(base []byte, hole stencil.Hole, value uint64) error {
	w := word(base, hole.Offset)
	if !isAArch64Mov(w) {
		return violation(hole, "instruction %#08x is not a MOV (wide immediate)", w)
	}
	part, noCheck, ok := hole.Kind.MovwPart()
	if !ok {
		return violation(hole, "not a MOVW-family hole kind")
	}
	if got := int(bitfield.Get(uint64(w), 21, 2)); got != part {
		return violation(hole, "instruction hw field is %d, want part %d", got, part)
	}
	if !noCheck && value>>uint(16*(part+1)) != 0 {
		return violation(hole, "value %#x does not fit in %d bits (checked MOVW part %d)", value, 16*(part+1), part)
	}
	w = bitfield.Set(w, 5, value, uint(16*part), 16)
	putWord(base, hole.Offset, w)
	return nil
}

func writeARM64Page21(base []byte, hole stencil.Hole, value, location uint64) error {
	w := word(base, hole.Offset)
	if !isAArch64ADRP(w) {
		return violation(hole, "instruction %#08x is not ADRP", w)
	}
	pages := int64(value>>12) - int64(location>>12)
	if pages < -(1<<20) || pages >= (1<<20) {
		return violation(hole, "page displacement %d does not fit in 21 signed bits", pages)
	}
	u := uint64(pages)
	w = bitfield.Set(w, 29, u, 0, 2)
	w = bitfield.Set(w, 5, u, 2, 19)
	putWord(base, hole.Offset, w)
	return nil
}

func writeARM64PageOff12(base []byte, hole stencil.Hole, value uint64) error {
	w := word(base, hole.Offset)
	isLdSt := isAArch64LdrOrStr(w)
	if !isLdSt && !isAArch64AddOrSub(w) {
		return violation(hole, "instruction %#08x is neither ADD/SUB nor LDR/STR", w)
	}
	var shift uint
	if isLdSt {
		shift = uint(bitfield.Get(uint64(w), 30, 2))
	}
	low12 := uint64(bitfield.Get(value, 0, 12))
	if bitfield.Get(low12, 0, shift) != 0 {
		return violation(hole, "low %d bits of offset %#x must be zero for this access size", shift, low12)
	}
	w = bitfield.Set(w, 10, low12, shift, 12)
	putWord(base, hole.Offset, w)
	return nil
}

// tryARM64ADRPPairFusion looks at holes[i+1] to decide whether the ADRP at
// hole and the PAGEOFF12-class relocation right after it can be replaced
// with a shorter materialization, per spec.md §4.3. consumed is true when
// the fusion applied and the caller should skip holes[i+1].
func tryARM64ADRPPairFusion(base []byte, holes []stencil.Hole, i int, hole stencil.Hole, value, location uint64) (consumed bool, err error) {
	w := word(base, hole.Offset)
	if !isAArch64ADRP(w) {
		return false, violation(hole, "instruction %#08x is not ADRP", w)
	}
	if i+1 >= len(holes) {
		return false, nil
	}
	next := holes[i+1]
	if !next.Kind.IsPageOff12Class() ||
		next.Offset != hole.Offset+4 ||
		next.Symbol != hole.Symbol ||
		next.Addend != hole.Addend ||
		next.Value != hole.Value {
		return false, nil
	}
	if uint64(hole.Offset)+8 > uint64(len(base)) {
		return false, violation(hole, "ADRP pair fusion needs 8 bytes at offset %d", hole.Offset)
	}
	reg := bitfield.Get(uint64(w), 0, 5)
	w1 := word(base, hole.Offset+4)
	if !isAArch64LdrOrStr(w1) {
		return false, violation(next, "instruction %#08x is not LDR/STR", w1)
	}
	if got := bitfield.Get(uint64(w1), 0, 5); got != reg {
		return false, violation(next, "LDR output register %d does not match ADRP's %d", got, reg)
	}
	if got := bitfield.Get(uint64(w1), 5, 5); got != reg {
		return false, violation(next, "LDR input register %d does not match ADRP's %d", got, reg)
	}

	relaxed := derefUint64(value)
	switch {
	case relaxed < 1<<16:
		// adrp reg, AAA; ldr reg, [reg+BBB] -> movz reg, XXX; nop
		putWord(base, hole.Offset, 0xD2800000|(bitfield.Get(relaxed, 0, 16)<<5)|reg)
		putWord(base, hole.Offset+4, 0xD503201F)
		return true, nil
	case relaxed < 1<<32:
		// adrp reg, AAA; ldr reg, [reg+BBB] -> movz reg, XXX; movk reg, YYY
		putWord(base, hole.Offset, 0xD2800000|(bitfield.Get(relaxed, 0, 16)<<5)|reg)
		putWord(base, hole.Offset+4, 0xF2A00000|(bitfield.Get(relaxed, 16, 16)<<5)|reg)
		return true, nil
	}
	rel := int64(value) - int64(location)
	if rel&0x3 == 0 && rel >= -(1<<19) && rel < (1<<19) {
		// adrp reg, AAA; ldr reg, [reg+BBB] -> ldr (literal) reg, XXX; nop
		putWord(base, hole.Offset, 0x58000000|(bitfield.Get(uint64(rel), 2, 19)<<5)|reg)
		putWord(base, hole.Offset+4, 0xD503201F)
		return true, nil
	}
	return false, nil
}
