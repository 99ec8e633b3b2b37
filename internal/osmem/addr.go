package osmem

import "unsafe"

// addrOf returns the address of b's backing array. The only unsafe
// operation in this package, localized here per spec.md §9.
func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
