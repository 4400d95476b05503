package crypto

import "runtime"

// Wipe zeroes b. Used for attempt-scoped key material (shared secret,
// randoms, AuthValue) once a provisioning attempt ends.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
