package jit

import (
	"fmt"
	"unsafe"

	"github.com/tmke8/uopjit/internal/osmem"
	"github.com/tmke8/uopjit/stencil"
)

// operandIs64Bit is true on hosts where a trace instruction's Operand
// patches a single 64-bit slot (ValueOperand) rather than being split
// across ValueOperandHi/ValueOperandLo.
const operandIs64Bit = unsafe.Sizeof(uintptr(0)) == 8

// allocate, markExecutable, and release are seams onto package osmem,
// swappable in tests the way osmem.Warnf itself is — in particular to
// simulate a mark-executable failure without needing a host where
// mprotect actually fails.
var (
	allocate       = osmem.Allocate
	markExecutable = osmem.MarkExecutable
	release        = osmem.Free
)

// Compile lays out, emits, and finalizes a trace of instructions into e,
// following the two-pass scheme of spec.md §4.5: a size pass that computes
// each instruction's code offset without emitting anything, then an emit
// pass that allocates the region once at its final size and patches every
// stencil in place. It returns 0 on success and -1 on failure, reporting
// the reason via osmem.Warnf rather than a Go error. e.JITCode is non-zero
// only between a successful Compile and the matching Free; a failed
// Compile leaves e's address fields untouched.
func Compile(e *Executor, table *Table, trace []Instruction) int {
	if err := compile(e, table, trace); err != nil {
		osmem.Warnf("compile failed: %v", err)
		return -1
	}
	return 0
}

func compile(e *Executor, table *Table, trace []Instruction) error {
	length := len(trace)
	if length == 0 {
		return fmt.Errorf("jit: empty trace")
	}
	if trace[0].Opcode != table.TraceEntryOpcode && trace[0].Opcode != table.ColdExitOpcode {
		return fmt.Errorf("jit: trace[0].Opcode %d is neither the trace-entry (%d) nor cold-exit (%d) opcode",
			trace[0].Opcode, table.TraceEntryOpcode, table.ColdExitOpcode)
	}

	// Size pass: walk the trace once, resolving opcodes and accumulating
	// sizes, without writing anything yet.
	groups := make([]*stencil.StencilGroup, length)
	instructionStarts := make([]int, length)
	codeSize := table.Trampoline.Code.BodySize()
	dataSize := table.Trampoline.Data.BodySize()
	for i, instr := range trace {
		g, err := table.group(instr.Opcode)
		if err != nil {
			return err
		}
		groups[i] = g
		instructionStarts[i] = codeSize
		codeSize += g.Code.BodySize()
		dataSize += g.Data.BodySize()
	}
	codeSize += table.FatalError.Code.BodySize()
	dataSize += table.FatalError.Data.BodySize()

	total := osmem.RoundUpToPage(codeSize + dataSize)
	buf, err := allocate(total)
	if err != nil {
		return err
	}

	mem := uint64(buf.Addr())
	raw := buf.Bytes()
	code := 0
	data := codeSize

	// The "first real instruction" TOP refers to. With no second
	// instruction to point at (a length-1 trace), nothing ever branches
	// to it, so the exact value doesn't matter; alias it to the
	// trampoline's own end to keep the patch table fully populated.
	top := uint64(table.Trampoline.Code.BodySize())
	if length > 1 {
		top = uint64(instructionStarts[1])
	}

	patches := stencil.DefaultPatches()
	patches.Set(stencil.ValueCode, mem+uint64(code))
	patches.Set(stencil.ValueContinue, mem+uint64(code+table.Trampoline.Code.BodySize()))
	patches.Set(stencil.ValueData, mem+uint64(data))
	patches.Set(stencil.ValueExecutor, uint64(uintptr(unsafe.Pointer(e))))
	patches.Set(stencil.ValueTop, mem+uint64(code+table.Trampoline.Code.BodySize()))
	if err := emitGroup(raw, code, data, &table.Trampoline, &patches); err != nil {
		release(buf)
		return err
	}
	code += table.Trampoline.Code.BodySize()
	data += table.Trampoline.Data.BodySize()

	for i, instr := range trace {
		g := groups[i]
		patches := stencil.DefaultPatches()
		patches.Set(stencil.ValueCode, mem+uint64(code))
		patches.Set(stencil.ValueContinue, mem+uint64(code+g.Code.BodySize()))
		patches.Set(stencil.ValueData, mem+uint64(data))
		patches.Set(stencil.ValueExecutor, uint64(uintptr(unsafe.Pointer(e))))
		patches.Set(stencil.ValueOparg, uint64(instr.Oparg))
		patches.Set(stencil.ValueTop, mem+top)
		if operandIs64Bit {
			patches.Set(stencil.ValueOperand, instr.Operand)
		} else {
			patches.Set(stencil.ValueOperandHi, instr.Operand>>32)
			patches.Set(stencil.ValueOperandLo, instr.Operand&0xFFFFFFFF)
		}

		switch instr.Format {
		case FormatTarget:
			patches.Set(stencil.ValueTarget, instr.Target)

		case FormatExit:
			if instr.ExitIndex >= e.ExitCount {
				release(buf)
				return fmt.Errorf("jit: exit_index %d out of range for executor with exit_count %d", instr.ExitIndex, e.ExitCount)
			}
			patches.Set(stencil.ValueExitIndex, uint64(instr.ExitIndex))
			if instr.ErrorTarget >= 0 && instr.ErrorTarget < length {
				patches.Set(stencil.ValueErrorTarget, mem+uint64(instructionStarts[instr.ErrorTarget]))
			}

		case FormatJump:
			if instr.JumpTarget < 0 || instr.JumpTarget >= length {
				release(buf)
				return fmt.Errorf("jit: jump_target %d out of range for trace of length %d", instr.JumpTarget, length)
			}
			patches.Set(stencil.ValueJumpTarget, mem+uint64(instructionStarts[instr.JumpTarget]))
			if instr.ErrorTarget >= 0 && instr.ErrorTarget < length {
				patches.Set(stencil.ValueErrorTarget, mem+uint64(instructionStarts[instr.ErrorTarget]))
			}

		default:
			release(buf)
			return fmt.Errorf("jit: instruction %d has unrecognized format %v", i, instr.Format)
		}

		if err := emitGroup(raw, code, data, g, &patches); err != nil {
			release(buf)
			return err
		}
		code += g.Code.BodySize()
		data += g.Data.BodySize()
	}

	patches = stencil.DefaultPatches()
	patches.Set(stencil.ValueCode, mem+uint64(code))
	patches.Set(stencil.ValueContinue, mem+uint64(code))
	patches.Set(stencil.ValueData, mem+uint64(data))
	patches.Set(stencil.ValueExecutor, uint64(uintptr(unsafe.Pointer(e))))
	patches.Set(stencil.ValueTop, mem+uint64(code))
	if err := emitGroup(raw, code, data, &table.FatalError, &patches); err != nil {
		release(buf)
		return err
	}
	code += table.FatalError.Code.BodySize()
	data += table.FatalError.Data.BodySize()

	if code != codeSize || data != codeSize+dataSize {
		release(buf)
		return fmt.Errorf("jit: internal layout mismatch: code=%d/%d data=%d/%d", code, codeSize, data, codeSize+dataSize)
	}

	if err := markExecutable(buf); err != nil {
		release(buf)
		return err
	}

	e.buf = buf
	e.JITCode = uintptr(mem)
	e.JITSideEntry = uintptr(mem) + uintptr(table.Trampoline.Code.BodySize())
	e.JITSize = uintptr(total)
	return nil
}
