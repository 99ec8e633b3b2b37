// Package stencil defines the data model produced ahead of time by the
// offline stencil toolchain and consumed by the relocation engine and trace
// compiler: holes, stencils, stencil groups, and the patch table they are
// resolved against.
//
// Holes, stencils and stencil groups are immutable once constructed — the
// stencil table is process-wide read-only data, generated once and loaded as a
// plain Go value (see the per-opcode table built by the offline toolchain,
// out of scope for this module). A PatchTable is the one mutable value
// here: it is filled in afresh for every stencil emission.
package stencil

// Hole is one pending relocation inside a stencil body. It is produced by
// the offline toolchain and never mutated afterward.
type Hole struct {
	// Offset is the byte offset into the stencil body where the
	// relocation is applied.
	Offset uint32
	// Kind selects the relocation engine's dispatch behavior.
	Kind HoleKind
	// Value indexes into the emission's PatchTable for the symbolic part
	// of the computed address.
	Value HoleValue
	// Symbol is the absolute address of an externally named symbol, or
	// zero if the hole has none.
	Symbol uint64
	// Addend is added to the computed value; may be negative.
	Addend int64
}

// Stencil is one compiled fragment: raw bytes to be copied verbatim except
// at hole offsets, plus the ordered list of holes to patch after copying.
type Stencil struct {
	// Body is copied byte-for-byte into the target region before holes
	// are patched. Non-owning: a view into the static stencil table.
	Body []byte
	// Holes lists, in emission order, every relocation inside Body.
	Holes []Hole
}

// BodySize is the number of bytes the stencil emitter copies from Body.
func (s *Stencil) BodySize() int { return len(s.Body) }

// StencilGroup pairs a code Stencil and a data Stencil sharing one patch
// table during emission. Used both for per-opcode groups and for the two
// distinguished groups — the trampoline and the fatal-error tail — that
// sit outside the per-opcode table.
type StencilGroup struct {
	Code Stencil
	Data Stencil
}
