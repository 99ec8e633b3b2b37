// Package jit is the trace compiler: it lays out, emits, and finalizes an
// executable region for a trace of micro-op instructions by copying and
// patching pre-compiled stencils (package stencil, relocated by package
// reloc). It mirrors the teacher's top-level exec package in role — the
// public surface that glues together the compile pipeline — while the
// pieces it glues (stencil data model, relocation dispatch, raw memory
// façade) live in their own packages the way wagon splits
// exec/internal/compile out from exec itself.
package jit

import "github.com/tmke8/uopjit/stencil"

// Format selects which of an Instruction's target-like fields is
// meaningful, mirroring the three UOP_FORMAT_* encodings of the original
// JIT's trace instruction record.
type Format uint8

const (
	// FormatTarget instructions resolve a single absolute Target address.
	FormatTarget Format = iota
	// FormatExit instructions resolve a side-exit slot index, and
	// optionally an ErrorTarget if it falls within the trace.
	FormatExit
	// FormatJump instructions resolve a JumpTarget instruction index
	// within the trace, and optionally an ErrorTarget.
	FormatJump
)

func (f Format) String() string {
	switch f {
	case FormatTarget:
		return "TARGET"
	case FormatExit:
		return "EXIT"
	case FormatJump:
		return "JUMP"
	default:
		return "Format(?)"
	}
}

// Instruction is one micro-op of a trace, as handed to Compile by the
// surrounding interpreter. Opcode selects a StencilGroup from the Table;
// every other field feeds the patch table for that instruction's emission.
type Instruction struct {
	Opcode      uint32
	Oparg       uint32
	Operand     uint64
	Target      uint64
	ExitIndex   uint32
	JumpTarget  int
	ErrorTarget int
	Format      Format
}

// Table is the compile-time data this backend consumes from the offline
// stencil toolchain: a dense per-opcode array of StencilGroups plus the
// two distinguished groups outside it, and the two opcode values the
// surrounding interpreter uses to mark a trace's entry point.
type Table struct {
	Groups     []stencil.StencilGroup
	Trampoline stencil.StencilGroup
	FatalError stencil.StencilGroup

	// TraceEntryOpcode and ColdExitOpcode are the only two opcodes
	// trace[0] is allowed to be (spec.md §4.5 step 4's assertion).
	TraceEntryOpcode uint32
	ColdExitOpcode   uint32
}

func (t *Table) group(opcode uint32) (*stencil.StencilGroup, error) {
	if int(opcode) >= len(t.Groups) {
		return nil, &InvalidOpcodeError{Opcode: opcode}
	}
	return &t.Groups[opcode], nil
}

// InvalidOpcodeError reports a trace instruction whose opcode has no entry
// in the Table's per-opcode stencil array.
type InvalidOpcodeError struct {
	Opcode uint32
}

func (e *InvalidOpcodeError) Error() string {
	return "jit: no stencil group for opcode"
}
