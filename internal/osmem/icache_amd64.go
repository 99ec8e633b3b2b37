//go:build amd64

package osmem

// flushICache is a no-op on amd64: the x86-64 ISA guarantees instruction-
// cache coherency with the data cache for self-modifying code, so there is
// no flush instruction to issue. mark_executable's Mprotect call alone is
// sufficient, matching the original JIT's own amd64/aarch64 split.
func flushICache(addr, size uintptr) {}
