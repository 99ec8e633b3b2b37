package stencil

// HoleKind tags the relocation behavior a Hole requires. The offline
// toolchain emits one of these per hole; the relocation engine's dispatch
// over HoleKind (see reloc.Apply) has a case for every kind below, and a
// kind with no case there is rejected at runtime as a ContractViolation.
type HoleKind uint8

const (
	// KindInvalid is the zero value. A Hole{} literal is never a valid
	// relocation; this catches holes the offline toolchain forgot to tag.
	KindInvalid HoleKind = iota

	// KindAbs32 writes the computed value as an unsigned 32-bit word.
	KindAbs32
	// KindAbs64 writes the computed value as a 64-bit word.
	KindAbs64
	// KindPCRel32 writes (value - location) as a signed 32-bit word.
	KindPCRel32
	// KindX8664GOTLoad is the x86-64 GOT-relative load, eligible for the
	// GOT-load relaxation described in spec.md §4.3.
	KindX8664GOTLoad

	// KindARM64Branch26 is an AArch64 unconditional/BL branch's 26-bit
	// word-aligned displacement field.
	KindARM64Branch26
	// KindARM64MovwG0..G3 are the four 16-bit slices of a MOVZ/MOVK wide
	// immediate chain that together reconstruct a 64-bit address.
	KindARM64MovwG0
	KindARM64MovwG0NC
	KindARM64MovwG1
	KindARM64MovwG1NC
	KindARM64MovwG2
	KindARM64MovwG2NC
	KindARM64MovwG3
	// KindARM64Page21 is an ADRP's 21-bit page-relative immediate,
	// eligible for ADRP-pair fusion with an immediately following
	// KindARM64PageOff12 or KindARM64PageOff12GOT hole.
	KindARM64Page21
	// KindARM64PageOff12 is an ADD/SUB or LDR/STR instruction's 12-bit
	// page-offset immediate.
	KindARM64PageOff12
	// KindARM64PageOff12GOT is the GOT-load variant of KindARM64PageOff12:
	// the LDR that, paired with a preceding ADRP, loads a GOT entry rather
	// than computing an address directly.
	KindARM64PageOff12GOT

	numHoleKinds
)

func (k HoleKind) String() string {
	switch k {
	case KindAbs32:
		return "Abs32"
	case KindAbs64:
		return "Abs64"
	case KindPCRel32:
		return "PCRel32"
	case KindX8664GOTLoad:
		return "X8664GOTLoad"
	case KindARM64Branch26:
		return "ARM64Branch26"
	case KindARM64MovwG0:
		return "ARM64MovwG0"
	case KindARM64MovwG0NC:
		return "ARM64MovwG0NC"
	case KindARM64MovwG1:
		return "ARM64MovwG1"
	case KindARM64MovwG1NC:
		return "ARM64MovwG1NC"
	case KindARM64MovwG2:
		return "ARM64MovwG2"
	case KindARM64MovwG2NC:
		return "ARM64MovwG2NC"
	case KindARM64MovwG3:
		return "ARM64MovwG3"
	case KindARM64Page21:
		return "ARM64Page21"
	case KindARM64PageOff12:
		return "ARM64PageOff12"
	case KindARM64PageOff12GOT:
		return "ARM64PageOff12GOT"
	default:
		return "HoleKind(?)"
	}
}

// IsPageOff12Class reports whether k is one of the PAGEOFF12-family kinds
// eligible to be fused with a preceding KindARM64Page21 hole — the
// ADRP-pair relaxation of spec.md §4.3.
func (k HoleKind) IsPageOff12Class() bool {
	return k == KindARM64PageOff12 || k == KindARM64PageOff12GOT
}

// MovwPart returns the 0-3 "part" index (the hw field of a MOVZ/MOVK wide
// immediate) a MOVW-family kind writes, and whether range-checking is
// skipped for that part (the NC, "no check", variants).
func (k HoleKind) MovwPart() (part int, noCheck bool, ok bool) {
	switch k {
	case KindARM64MovwG0:
		return 0, false, true
	case KindARM64MovwG0NC:
		return 0, true, true
	case KindARM64MovwG1:
		return 1, false, true
	case KindARM64MovwG1NC:
		return 1, true, true
	case KindARM64MovwG2:
		return 2, false, true
	case KindARM64MovwG2NC:
		return 2, true, true
	case KindARM64MovwG3:
		// G3 implicitly covers the high bits: no truncation is possible.
		return 3, true, true
	default:
		return 0, false, false
	}
}
