package crypto

import "runtime"

// Wipe zeroes b in place. This is best effort: Go may already have copied
// the bytes elsewhere.
//
//go:noinline
func Wipe(b []byte) {
	clear(b)
	runtime.KeepAlive(&b)
}
