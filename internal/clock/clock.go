// Package clock abstracts timer creation so that components driven by
// long intervals (keepalive watchdogs, reconnect delays, debounce
// windows) can be tested with a fake clock instead of real sleeps.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock creates timers and reports the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for the duration to elapse and then calls f in
	// its own goroutine. The returned Timer can stop or rearm the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. Reports whether it was
	// still pending.
	Stop() bool

	// Reset rearms the timer to fire after d. Reports whether it was
	// still pending.
	Reset(d time.Duration) bool
}

// New returns a Clock backed by the time package.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool                 { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Fake is a manually advanced Clock for tests.
//
// Advance moves the fake time forward and fires due timers
// synchronously, in firing order, on the calling goroutine. That makes
// timer-driven behaviour deterministic: when Advance returns, every
// callback due by then has completed.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake clock starting at an arbitrary fixed time.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers f to run when the fake time passes d from now.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{
		clock: f,
		when:  f.now.Add(d),
		fn:    fn,
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		t := f.nextDueLocked(target)
		if t == nil {
			break
		}
		// Move time to the timer's deadline before firing so
		// callbacks observe a consistent Now().
		f.now = t.when
		t.stopped = true
		fn := t.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}

	f.now = target
	f.mu.Unlock()
}

// nextDueLocked pops the earliest pending timer due by target, or nil.
func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	sort.SliceStable(f.timers, func(i, j int) bool {
		return f.timers[i].when.Before(f.timers[j].when)
	})
	for _, t := range f.timers {
		if !t.stopped && !t.when.After(target) {
			return t
		}
	}
	return nil
}

// PendingTimers reports how many timers are armed. Useful for
// asserting that a component did not leak or duplicate timers.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock   *Fake
	when    time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = false
	t.when = t.clock.now.Add(d)
	return was
}
