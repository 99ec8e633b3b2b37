// Package osmem is the OS memory façade: page-aligned allocate, free, and
// mark-executable, with the required write-then-protect / flush-before-
// execute ordering and instruction-cache coherency baked into
// MarkExecutable. Grounded on the teacher's own mmap dependency
// (github.com/edsrzf/mmap-go, used by wagon's exec/internal/compile for an
// identical anonymous-RW-then-RX lifecycle) plus golang.org/x/sys/unix for
// the permission flip.
package osmem

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// Warnf is the non-raising warning hook every fallible operation in this
// package reports through, rather than returning a rich error type up the
// stack. The embedding interpreter may swap it out; the default writes to
// stderr.
var Warnf = func(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "osmem: "+format+"\n", args...)
}

// PageSize returns the host's page size.
func PageSize() int {
	return os.Getpagesize()
}

// RoundUpToPage rounds size up to the next multiple of the page size.
func RoundUpToPage(size int) int {
	page := PageSize()
	return (size + page - 1) &^ (page - 1)
}

// Buffer is a page-aligned block of memory owned by exactly one executor.
// It is writable until MarkExecutable succeeds, at which point it becomes
// read-execute and is never writable again.
type Buffer struct {
	region mmap.MMap
}

// Bytes returns the buffer's contents. Valid to write into until
// MarkExecutable is called.
func (b *Buffer) Bytes() []byte { return b.region }

// Addr returns the buffer's base address.
func (b *Buffer) Addr() uintptr {
	if len(b.region) == 0 {
		return 0
	}
	return addrOf(b.region)
}

// Allocate returns a zero-filled, read-write buffer of exactly size bytes.
// size must be a multiple of the page size. Reports AllocationFailed via
// Warnf and returns an error on failure.
func Allocate(size int) (*Buffer, error) {
	if size == 0 || size%PageSize() != 0 {
		return nil, fmt.Errorf("osmem: size %d is not a positive multiple of the page size", size)
	}
	region, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		Warnf("unable to allocate memory (%v)", err)
		return nil, err
	}
	return &Buffer{region: region}, nil
}

// Free releases buf's memory back to the OS. Failures are reported via
// Warnf and returned, but the caller is expected to treat the buffer as
// gone regardless (matching the original's unraisable-warning semantics
// during executor teardown).
func Free(buf *Buffer) error {
	if buf == nil || buf.region == nil {
		return nil
	}
	if err := buf.region.Unmap(); err != nil {
		Warnf("unable to free memory (%v)", err)
		return err
	}
	buf.region = nil
	return nil
}

// MarkExecutable flushes the instruction cache across buf and then
// transitions it from read-write to read-execute. It is a no-op on a
// zero-length buffer. A buffer must only ever make this transition once;
// there is no path back to writable.
func MarkExecutable(buf *Buffer) error {
	if buf == nil || len(buf.region) == 0 {
		return nil
	}
	flushICache(buf.Addr(), uintptr(len(buf.region)))
	if err := unix.Mprotect(buf.region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		Warnf("unable to protect executable memory (%v)", err)
		return err
	}
	return nil
}
