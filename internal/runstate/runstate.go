// Package runstate holds the single process-wide "running" flag that
// signal handlers clear to request a graceful stop. Download loops poll it
// at chunk boundaries.
package runstate

import "sync/atomic"

var running atomic.Bool

func init() {
	running.Store(true)
}

// Running reports whether the process should keep going.
func Running() bool {
	return running.Load()
}

// Stop clears the flag, requesting that in-flight operations abort at their
// next cooperative checkpoint.
func Stop() {
	running.Store(false)
}

// Reset restores the flag to true. Intended for tests that run multiple
// operations against the same process-wide state.
func Reset() {
	running.Store(true)
}
