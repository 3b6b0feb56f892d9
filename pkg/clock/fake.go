package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Advance moves the virtual
// time forward and fires any timers that came due, in deadline order, on
// the calling goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake clock starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clk: f, when: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d and fires due timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	deadline := f.now
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.when.After(deadline) {
			due = append(due, t)
		} else if !t.stopped {
			rest = append(rest, t)
		}
	}
	f.timers = rest
	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	f.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

type fakeTimer struct {
	clk     *Fake
	when    time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, x := range t.clk.timers {
		if x == t {
			t.clk.timers = append(t.clk.timers[:i], t.clk.timers[i+1:]...)
			break
		}
	}
	return true
}
