// Package spinlock provides an async-signal-safe mutual-exclusion
// primitive for per-bucket re-entry protection in the sampler (spec
// §4.B). It never calls into the OS and never blocks on anything but
// CPU, so it is safe to acquire from inside a SIGPROF/SIGALRM handler.
package spinlock

import "sync/atomic"

// SpinLock is a single-bit atomic mutex. The zero value is unlocked.
type SpinLock struct {
	locked atomic.Bool
}

// TryLock attempts to acquire the lock without blocking. It reports
// whether the lock was acquired.
func (l *SpinLock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Lock spins until the lock is acquired. Only safe to call outside a
// signal handler, where indefinite spinning cannot starve a handler
// that needs the same lock.
func (l *SpinLock) Lock() {
	for !l.TryLock() {
	}
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}
