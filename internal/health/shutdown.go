package health

import "sync/atomic"

var notReady atomic.Bool

// SetReady flips the global readiness gate. Graceful shutdown calls
// SetReady(false) so load balancers drain traffic before the listener closes.
func SetReady(ready bool) {
	notReady.Store(!ready)
}

// IsReady reports the current readiness gate state.
func IsReady() bool {
	return !notReady.Load()
}
