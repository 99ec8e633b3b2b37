//go:build arm64

package osmem

// flushICacheRange invalidates the instruction cache (and cleans the data
// cache) across [addr, addr+size) so that every core observes freshly
// written code before it is executed. Implemented in icache_arm64.s using
// per-cache-line DC CVAU / IC IVAU, the same operation the original JIT
// gets from the __builtin___clear_cache compiler intrinsic — there is no
// portable syscall for this on linux/arm64.
//
// The loop steps by 8 bytes rather than querying CTR_EL0 for the true
// cache line size: stepping finer than the real line size just revisits
// the same line harmlessly, and every AArch64 implementation's minimum
// line size is a multiple of 8 bytes, so this is always sufficient.
func flushICacheRange(addr, size uintptr)

func flushICache(addr, size uintptr) {
	flushICacheRange(addr, size)
}
