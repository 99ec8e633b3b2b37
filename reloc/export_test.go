package reloc

import "unsafe"

// addrOfForTest exposes a raw slice address for constructing fixtures that
// exercise the engine's own raw-pointer dereferences (GOT-load and
// ADRP-pair relaxation). Test-only: production code never needs a slice's
// address as a value, only as the `base []byte` Apply already takes.
func addrOfForTest(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
