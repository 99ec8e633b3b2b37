package jit

import "github.com/tmke8/uopjit/internal/osmem"

// Executor is the compiled form of one trace: a finalized, read-execute
// memory region plus the bookkeeping the interpreter needs to invoke it and
// eventually tear it down. ExitCount is fixed at construction time and
// bounds every EXIT-format instruction's ExitIndex during Compile.
type Executor struct {
	// JITCode is the entry address a caller jumps to for a cold start.
	JITCode uintptr
	// JITSideEntry is the entry address for resuming after a side exit —
	// the address immediately past the trampoline, where trace[0]'s code
	// begins.
	JITSideEntry uintptr
	// JITSize is the total size, in bytes, of the region backing JITCode.
	JITSize uintptr
	// ExitCount is the number of side-exit slots this executor reserves.
	// Set by the caller before Compile and never changed afterward.
	ExitCount uint32

	buf *osmem.Buffer
}

// Free releases the executable region backing e, if any, and zeroes e's
// address fields. Safe to call more than once, and safe to call on an
// Executor whose Compile never succeeded.
func Free(e *Executor) {
	if e.buf == nil {
		return
	}
	buf := e.buf
	e.buf = nil
	e.JITCode = 0
	e.JITSideEntry = 0
	e.JITSize = 0
	// osmem.Free already reports failure via its own Warnf hook; this is
	// teardown, so there is nothing further to propagate to.
	_ = osmem.Free(buf)
}
