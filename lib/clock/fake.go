// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial. Time only moves when
// Advance or Set is called.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is one registered After channel or ticker.
type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	period   time.Duration // zero for one-shot timers
	stopped  bool
}

// Now returns the fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the clock has been advanced
// by at least d.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- f.now
		return channel
	}
	f.register(&fakeTimer{deadline: f.now.Add(d), channel: channel})
	return channel
}

// NewTicker returns a ticker that fires each time the clock crosses a
// multiple of d past the registration time.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	timer := &fakeTimer{
		deadline: f.now.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	f.register(timer)

	return &Ticker{
		C: timer.channel,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			timer.stopped = true
			f.changed.Broadcast()
		},
	}
}

// register adds a timer and wakes WaitForTimers. Caller holds f.mu.
func (f *FakeClock) register(timer *fakeTimer) {
	f.pending = append(f.pending, timer)
	f.changed.Broadcast()
}

// Advance moves the clock forward by d and fires, in deadline order,
// every timer whose deadline is at or before the new time. Sends are
// non-blocking; a ticker whose buffer is full drops the tick.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.fireLocked()
	f.mu.Unlock()
}

// Set jumps the clock to t (forward only) and fires expired timers.
// Useful when a test wants to land exactly on an hour or day boundary.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	if t.After(f.now) {
		f.now = t
	}
	f.fireLocked()
	f.mu.Unlock()
}

func (f *FakeClock) fireLocked() {
	var due []*fakeTimer
	var keep []*fakeTimer
	for _, timer := range f.pending {
		switch {
		case timer.stopped:
		case !timer.deadline.After(f.now):
			due = append(due, timer)
		default:
			keep = append(keep, timer)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, timer := range due {
		select {
		case timer.channel <- f.now:
		default:
		}
		if timer.period > 0 {
			for !timer.deadline.After(f.now) {
				timer.deadline = timer.deadline.Add(timer.period)
			}
			keep = append(keep, timer)
		}
	}

	f.pending = keep
	f.changed.Broadcast()
}

// WaitForTimers blocks until at least n timers or tickers are pending.
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.activeLocked() < n {
		f.changed.Wait()
	}
}

// PendingCount returns the number of active timers and tickers.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range f.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
