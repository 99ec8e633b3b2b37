// Package reloc is the stencil-patch relocation engine: it applies one
// stencil's holes to the bytes already copied into place, dispatching on
// each hole's kind. Dispatch is a closed Go switch on the kind rather than a
// virtual-method hierarchy (spec.md §9 "polymorphism over relocation
// kinds"), grounded on the teacher's own instruction-switch idiom in
// exec/internal/compile/backend_amd64.go (AMD64Backend.Build switches on
// opcode byte with a default error case; here the switch is over
// stencil.HoleKind instead of a wasm opcode, and every unhandled kind is
// a ContractViolation rather than "not yet implemented").
package reloc

import (
	"encoding/binary"
	"fmt"

	"github.com/tmke8/uopjit/stencil"
)

// ContractViolation reports an unrecognized hole kind, an out-of-range
// relocation, or a stencil whose instruction word fails its encoding-class
// assertion. Per spec.md §7 these are offline-toolchain or programmer
// bugs, not properties of the trace being compiled. Apply returns one as
// an ordinary error; jit.Compile reports it through osmem.Warnf and fails
// the compile with -1.
type ContractViolation struct {
	Offset uint32
	Kind   stencil.HoleKind
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("reloc: contract violation at offset %d (kind %s): %s", e.Offset, e.Kind, e.Reason)
}

func violation(h stencil.Hole, format string, args ...interface{}) error {
	return &ContractViolation{Offset: h.Offset, Kind: h.Kind, Reason: fmt.Sprintf(format, args...)}
}

func word(base []byte, offset uint32) uint32 {
	return binary.LittleEndian.Uint32(base[offset:])
}

func putWord(base []byte, offset uint32, w uint32) {
	binary.LittleEndian.PutUint32(base[offset:], w)
}

// Apply patches every hole in holes into base, which must already hold the
// stencil body's raw bytes (the caller — the stencil emitter — copies the
// body before calling Apply). location is the absolute address base[0]
// will occupy once the region is finalized; it is needed for every
// PC-relative and page-relative kind.
//
// Holes are applied in order, but the AArch64 ADRP-pair relaxation may
// consume (and skip) the hole immediately following a KindARM64Page21
// hole, per spec.md §4.3.
func Apply(base []byte, location uint64, holes []stencil.Hole, patches *stencil.PatchTable) error {
	for i := 0; i < len(holes); i++ {
		hole := holes[i]
		width := uint64(4)
		if hole.Kind == stencil.KindAbs64 || hole.Kind == stencil.KindARM64Page21 {
			// Abs64 writes 8 bytes outright; Page21 may fuse with its
			// successor and write two consecutive instruction words.
			width = 8
		}
		if uint64(hole.Offset)+width > uint64(len(base)) {
			return violation(hole, "offset %d is out of bounds of a %d-byte body", hole.Offset, len(base))
		}
		loc := location + uint64(hole.Offset)
		value := patches.Get(hole.Value) + hole.Symbol + uint64(hole.Addend)

		switch hole.Kind {
		case stencil.KindAbs32:
			if value >= 1<<32 {
				return violation(hole, "value %#x does not fit in 32 unsigned bits", value)
			}
			putWord(base, hole.Offset, uint32(value))

		case stencil.KindAbs64:
			binary.LittleEndian.PutUint64(base[hole.Offset:], value)

		case stencil.KindPCRel32:
			if err := writePCRel32(base, hole, value, loc); err != nil {
				return err
			}

		case stencil.KindX8664GOTLoad:
			if relaxed, ok, err := relaxX8664GOTLoad(base, hole, value, loc); err != nil {
				return err
			} else if ok {
				value = relaxed
			}
			// Either way, fall through to the PC-relative-32 writer.
			if err := writePCRel32(base, hole, value, loc); err != nil {
				return err
			}

		case stencil.KindARM64Branch26:
			if err := writeARM64Branch26(base, hole, value, loc); err != nil {
				return err
			}

		case stencil.KindARM64MovwG0, stencil.KindARM64MovwG0NC,
			stencil.KindARM64MovwG1, stencil.KindARM64MovwG1NC,
			stencil.KindARM64MovwG2, stencil.KindARM64MovwG2NC,
			stencil.KindARM64MovwG3:
			if err := writeARM64Movw(base, hole, value); err != nil {
				return err
			}

		case stencil.KindARM64Page21:
			consumed, err := tryARM64ADRPPairFusion(base, holes, i, hole, value, loc)
			if err != nil {
				return err
			}
			if consumed {
				i++ // the paired PAGEOFF12-class hole is fully resolved.
				continue
			}
			if err := writeARM64Page21(base, hole, value, loc); err != nil {
				return err
			}

		case stencil.KindARM64PageOff12, stencil.KindARM64PageOff12GOT:
			if err := writeARM64PageOff12(base, hole, value); err != nil {
				return err
			}

		default:
			return violation(hole, "unrecognized hole kind")
		}
	}
	return nil
}

func writePCRel32(base []byte, hole stencil.Hole, value, location uint64) error {
	rel := int64(value) - int64(location)
	if rel < -(1<<31) || rel >= (1<<31) {
		return violation(hole, "relative value %d does not fit in 32 signed bits", rel)
	}
	putWord(base, hole.Offset, uint32(int32(rel)))
	return nil
}
