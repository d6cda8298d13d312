// Package timer implements the signal/timer driver (spec §4.H): it
// installs the SIGPROF handler, drives ITIMER_PROF with a jittered
// interval table so co-scheduled threads don't all fire in lockstep,
// and broadcasts SIGALRM to every sampled thread between ticks. Ported
// from the original source's signal_prof.rs.
package timer

import (
	"errors"
	"math/rand"

	"golang.org/x/sys/unix"
)

// tableSize is the number of precomputed jittered intervals cycled
// through by Driver, matching signal_prof.rs's MAX_SIGNAL_SIZE.
const tableSize = 1024

// Driver owns the jittered interval table and the current position
// within it. It is not safe for concurrent use; the sampler calls it
// only from its own background goroutine.
type Driver struct {
	intervals [tableSize]uint32 // nanoseconds
	idx       int
}

// NewDriver builds a Driver whose intervals are uniformly distributed
// in [min, max] nanoseconds, precomputed up front so the hot path
// never calls into the RNG from signal-adjacent code.
func NewDriver(min, max uint32) *Driver {
	if max < min {
		min, max = max, min
	}
	span := max - min + 1
	d := &Driver{}
	for i := range d.intervals {
		d.intervals[i] = min + rand.Uint32()%span
	}
	return d
}

// InstallHandler registers the cgo-exported C function at handlerAddr
// as the SIGPROF handler with SA_RESTART and SA_SIGINFO set, matching
// signal_prof.rs's set_action. The handler itself must be a
// //export'd C function (cmd/jprofiler/handler.go); a Go func value
// cannot be installed directly as a SA_SIGINFO sigaction target.
func InstallHandler(handlerAddr uintptr) error {
	var sa unix.Sigaction
	sa.Flags = unix.SA_RESTART | unix.SA_SIGINFO
	handlerAsUintptrArray(&sa, handlerAddr)
	return unix.Sigaction(unix.SIGPROF, &sa, nil)
}

// NextIntervalNanos returns the next interval from the jitter table
// and advances the cursor, wrapping modulo the table size.
func (d *Driver) NextIntervalNanos() uint32 {
	v := d.intervals[d.idx]
	d.idx = (d.idx + 1) % tableSize
	return v
}

// Arm sets ITIMER_PROF to fire once after the next jittered interval
// (it_interval is left zero: the sampler re-arms explicitly after
// every tick rather than trusting a fixed repeating period, so the
// jitter table actually takes effect tick to tick).
func (d *Driver) Arm() error {
	ns := d.NextIntervalNanos()
	sec := int64(ns) / 1e9
	usec := int64(ns%1e9) / 1e3
	tv := unix.Timeval{Sec: sec, Usec: usec}
	it := unix.Itimerval{Value: tv}
	return unix.Setitimer(unix.ITIMER_PROF, &it, nil)
}

// Disarm stops ITIMER_PROF.
func Disarm() error {
	var it unix.Itimerval
	return unix.Setitimer(unix.ITIMER_PROF, &it, nil)
}

// handlerAsUintptrArray installs addr as sa.Handler, isolated to its
// own function so the unsafe cast needed on Sigaction's raw Handler
// field has a single, obvious call site.
func handlerAsUintptrArray(sa *unix.Sigaction, addr uintptr) {
	sa.Handler = addr
}

// ErrBroadcastFailed is returned by Broadcast when at least one thread
// could not be signalled; partial delivery is still reported via the
// failed slice so the caller can log specifics.
var ErrBroadcastFailed = errors.New("timer: one or more threads failed to receive alarm")

// Alarmer sends sig to the OS thread tid, matching
// osthread.SendAlarm's signature without importing it directly (kept
// decoupled so timer stays testable without procfs).
type Alarmer func(tid uint64, sig unix.Signal) error

// Broadcast delivers SIGALRM to every tid in threads using send,
// continuing past individual failures and returning the set that
// failed.
func Broadcast(threads []uint64, send Alarmer) (failed []uint64, err error) {
	for _, tid := range threads {
		if sendErr := send(tid, unix.SIGALRM); sendErr != nil {
			failed = append(failed, tid)
		}
	}
	if len(failed) > 0 {
		err = ErrBroadcastFailed
	}
	return failed, err
}
