// Package clock abstracts wall time and one-shot timers so components that
// debounce or sweep (presence grace periods, notification buckets) can be
// unit-tested against a virtual clock instead of real timers.
package clock

import "time"

// Timer is a one-shot scheduled call.
type Timer interface {
	// Stop cancels the timer. It reports whether the call was prevented.
	Stop() bool
}

// Clock supplies the current time and schedules one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type system struct{}

// System returns the wall clock backed by the time package.
func System() Clock { return system{} }

func (system) Now() time.Time { return time.Now().UTC() }

func (system) AfterFunc(d time.Duration, f func()) Timer {
	return sysTimer{t: time.AfterFunc(d, f)}
}

type sysTimer struct{ t *time.Timer }

func (s sysTimer) Stop() bool { return s.t.Stop() }
