// Command uopjit-dump compiles one serialized trace against one serialized
// stencil table and reports the resulting region's layout: the finalized
// entry addresses, total size, and each instruction's opcode and format. It exists
// for bringing up a new stencil table offline — the table and trace a real
// interpreter would hand to jit.Compile in process are, here, read from
// JSON files instead.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tmke8/uopjit/internal/osmem"
	"github.com/tmke8/uopjit/jit"
	"github.com/tmke8/uopjit/stencil"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: uopjit-dump -table=table.json -trace=trace.json

ex:
 $> uopjit-dump -table=table.json -trace=trace.json

options:
`)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var (
	flagTable = flag.String("table", "", "path to a JSON-encoded stencil table")
	flagTrace = flag.String("trace", "", "path to a JSON-encoded trace")
)

func main() {
	log.SetPrefix("uopjit-dump: ")
	log.SetFlags(0)

	flag.Parse()

	if *flagTable == "" || *flagTrace == "" {
		flag.Usage()
	}

	if err := dump(os.Stdout, *flagTable, *flagTrace); err != nil {
		log.Fatal(err)
	}
}

func dump(w io.Writer, tablePath, tracePath string) error {
	table, err := readTable(tablePath)
	if err != nil {
		return fmt.Errorf("could not read table: %w", err)
	}
	trace, err := readTrace(tracePath)
	if err != nil {
		return fmt.Errorf("could not read trace: %w", err)
	}

	var e jit.Executor
	e.ExitCount = exitCount(trace)
	if rc := jit.Compile(&e, table, trace); rc != 0 {
		return fmt.Errorf("compile failed (see warnings above)")
	}
	defer jit.Free(&e)

	fmt.Fprintf(w, "trace length: %d instructions\n", len(trace))
	fmt.Fprintf(w, "jit_code:       %#016x\n", e.JITCode)
	fmt.Fprintf(w, "jit_side_entry: %#016x\n", e.JITSideEntry)
	fmt.Fprintf(w, "jit_size:       %#x (%d bytes, %d page(s))\n",
		e.JITSize, e.JITSize, (int(e.JITSize)+osmem.PageSize()-1)/osmem.PageSize())
	for i, instr := range trace {
		fmt.Fprintf(w, " - trace[%d]: opcode=%d format=%v\n", i, instr.Opcode, instr.Format)
	}
	return nil
}

func exitCount(trace []jit.Instruction) uint32 {
	var n uint32
	for _, instr := range trace {
		if instr.Format == jit.FormatExit && instr.ExitIndex+1 > n {
			n = instr.ExitIndex + 1
		}
	}
	return n
}

// jsonHole and jsonStencil mirror stencil.Hole and stencil.Stencil for a
// human-editable file format: kinds and values are named by string, and
// bodies are base64.
type jsonHole struct {
	Offset uint32 `json:"offset"`
	Kind   string `json:"kind"`
	Value  string `json:"value"`
	Symbol uint64 `json:"symbol"`
	Addend int64  `json:"addend"`
}

type jsonStencil struct {
	Body  []byte     `json:"body"` // base64, via encoding/json's []byte handling
	Holes []jsonHole `json:"holes"`
}

type jsonGroup struct {
	Code jsonStencil `json:"code"`
	Data jsonStencil `json:"data"`
}

type jsonTable struct {
	Groups           []jsonGroup `json:"groups"`
	Trampoline       jsonGroup   `json:"trampoline"`
	FatalError       jsonGroup   `json:"fatal_error"`
	TraceEntryOpcode uint32      `json:"trace_entry_opcode"`
	ColdExitOpcode   uint32      `json:"cold_exit_opcode"`
}

func readTable(path string) (*jit.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var jt jsonTable
	if err := json.NewDecoder(f).Decode(&jt); err != nil {
		return nil, err
	}

	groups := make([]stencil.StencilGroup, len(jt.Groups))
	for i, g := range jt.Groups {
		sg, err := toStencilGroup(g)
		if err != nil {
			return nil, fmt.Errorf("group[%d]: %w", i, err)
		}
		groups[i] = sg
	}
	trampoline, err := toStencilGroup(jt.Trampoline)
	if err != nil {
		return nil, fmt.Errorf("trampoline: %w", err)
	}
	fatalError, err := toStencilGroup(jt.FatalError)
	if err != nil {
		return nil, fmt.Errorf("fatal_error: %w", err)
	}

	return &jit.Table{
		Groups:           groups,
		Trampoline:       trampoline,
		FatalError:       fatalError,
		TraceEntryOpcode: jt.TraceEntryOpcode,
		ColdExitOpcode:   jt.ColdExitOpcode,
	}, nil
}

func toStencilGroup(g jsonGroup) (stencil.StencilGroup, error) {
	code, err := toStencil(g.Code)
	if err != nil {
		return stencil.StencilGroup{}, fmt.Errorf("code: %w", err)
	}
	data, err := toStencil(g.Data)
	if err != nil {
		return stencil.StencilGroup{}, fmt.Errorf("data: %w", err)
	}
	return stencil.StencilGroup{Code: code, Data: data}, nil
}

func toStencil(s jsonStencil) (stencil.Stencil, error) {
	holes := make([]stencil.Hole, len(s.Holes))
	for i, h := range s.Holes {
		kind, ok := holeKinds[h.Kind]
		if !ok {
			return stencil.Stencil{}, fmt.Errorf("hole[%d]: unknown kind %q", i, h.Kind)
		}
		value, ok := holeValues[h.Value]
		if !ok {
			return stencil.Stencil{}, fmt.Errorf("hole[%d]: unknown value %q", i, h.Value)
		}
		holes[i] = stencil.Hole{Offset: h.Offset, Kind: kind, Value: value, Symbol: h.Symbol, Addend: h.Addend}
	}
	return stencil.Stencil{Body: s.Body, Holes: holes}, nil
}

func readTrace(path string) ([]jit.Instruction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type jsonInstruction struct {
		Opcode      uint32 `json:"opcode"`
		Oparg       uint32 `json:"oparg"`
		Operand     uint64 `json:"operand"`
		Target      uint64 `json:"target"`
		ExitIndex   uint32 `json:"exit_index"`
		JumpTarget  int    `json:"jump_target"`
		ErrorTarget int    `json:"error_target"`
		Format      string `json:"format"`
	}
	var instrs []jsonInstruction
	if err := json.NewDecoder(f).Decode(&instrs); err != nil {
		return nil, err
	}

	trace := make([]jit.Instruction, len(instrs))
	for i, ji := range instrs {
		format, ok := instructionFormats[ji.Format]
		if !ok {
			return nil, fmt.Errorf("trace[%d]: unknown format %q", i, ji.Format)
		}
		trace[i] = jit.Instruction{
			Opcode:      ji.Opcode,
			Oparg:       ji.Oparg,
			Operand:     ji.Operand,
			Target:      ji.Target,
			ExitIndex:   ji.ExitIndex,
			JumpTarget:  ji.JumpTarget,
			ErrorTarget: ji.ErrorTarget,
			Format:      format,
		}
	}
	return trace, nil
}

var instructionFormats = map[string]jit.Format{
	"TARGET": jit.FormatTarget,
	"EXIT":   jit.FormatExit,
	"JUMP":   jit.FormatJump,
}

var holeValues = map[string]stencil.HoleValue{
	"ZERO":         stencil.ValueZero,
	"CODE":         stencil.ValueCode,
	"DATA":         stencil.ValueData,
	"CONTINUE":     stencil.ValueContinue,
	"TOP":          stencil.ValueTop,
	"EXECUTOR":     stencil.ValueExecutor,
	"OPARG":        stencil.ValueOparg,
	"OPERAND":      stencil.ValueOperand,
	"OPERAND_HI":   stencil.ValueOperandHi,
	"OPERAND_LO":   stencil.ValueOperandLo,
	"TARGET":       stencil.ValueTarget,
	"JUMP_TARGET":  stencil.ValueJumpTarget,
	"ERROR_TARGET": stencil.ValueErrorTarget,
	"EXIT_INDEX":   stencil.ValueExitIndex,
}

var holeKinds = map[string]stencil.HoleKind{
	"Abs32":             stencil.KindAbs32,
	"Abs64":             stencil.KindAbs64,
	"PCRel32":           stencil.KindPCRel32,
	"X8664GOTLoad":      stencil.KindX8664GOTLoad,
	"ARM64Branch26":     stencil.KindARM64Branch26,
	"ARM64MovwG0":       stencil.KindARM64MovwG0,
	"ARM64MovwG0NC":     stencil.KindARM64MovwG0NC,
	"ARM64MovwG1":       stencil.KindARM64MovwG1,
	"ARM64MovwG1NC":     stencil.KindARM64MovwG1NC,
	"ARM64MovwG2":       stencil.KindARM64MovwG2,
	"ARM64MovwG2NC":     stencil.KindARM64MovwG2NC,
	"ARM64MovwG3":       stencil.KindARM64MovwG3,
	"ARM64Page21":       stencil.KindARM64Page21,
	"ARM64PageOff12":    stencil.KindARM64PageOff12,
	"ARM64PageOff12GOT": stencil.KindARM64PageOff12GOT,
}
