//go:build !amd64 && !arm64

package osmem

// flushICache has no implementation outside amd64/arm64: the relocation
// engine itself only supports those two architectures (spec.md §1), so
// mark_executable is never exercised with a stencil-derived region on any
// other GOARCH. Left as a safe no-op rather than a panic so the package
// still builds (and its allocator tests still run) on other hosts.
func flushICache(addr, size uintptr) {}
