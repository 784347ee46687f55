// Package clock abstracts time so deadline logic can be driven by tests.
package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type (
	Clock  = clockwork.Clock
	Timer  = clockwork.Timer
	Ticker = clockwork.Ticker
)

// Real returns the wall clock.
func Real() Clock { return clockwork.NewRealClock() }

// Fake is a manually advanced clock. Unlike clockwork's fake, AfterFunc
// callbacks run synchronously inside Advance, in deadline order, on the
// goroutine calling Advance. Tickers and channel timers behave as in
// clockwork.
type Fake struct {
	*clockwork.FakeClock

	mu     sync.Mutex
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	seq      int
	deadline time.Time
	fn       func()
	inner    clockwork.Timer
	done     bool
}

func NewFake(start time.Time) *Fake {
	return &Fake{FakeClock: clockwork.NewFakeClockAt(start)}
}

// AfterFunc arms a clockwork timer and runs fn from Advance once it fires.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		clock:    f,
		seq:      f.seq,
		deadline: f.FakeClock.Now().Add(d),
		fn:       fn,
		inner:    f.FakeClock.NewTimer(d),
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every AfterFunc callback
// whose timer fired.
func (f *Fake) Advance(d time.Duration) {
	f.FakeClock.Advance(d)

	f.mu.Lock()
	var due []*fakeTimer
	pending := f.timers[:0]
	for _, t := range f.timers {
		if t.done {
			continue
		}
		select {
		case <-t.inner.Chan():
			t.done = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	f.timers = pending
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of armed AfterFunc timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Chan is nil, as for timers created by time.AfterFunc.
func (t *fakeTimer) Chan() <-chan time.Time { return nil }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.inner.Stop()
	t.clock.removeLocked(t)
	return true
}

func (f *Fake) removeLocked(t *fakeTimer) {
	for i, other := range f.timers {
		if other == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	active := !t.done
	t.inner.Stop()
	f.seq++
	t.seq = f.seq
	t.deadline = f.FakeClock.Now().Add(d)
	t.inner = f.FakeClock.NewTimer(d)
	if !active {
		t.done = false
		f.timers = append(f.timers, t)
	}
	return active
}
