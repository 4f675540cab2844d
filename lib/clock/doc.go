// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// collector and the energy store.
//
// Production code holds a [Clock] and calls Now, After, and NewTicker on
// it instead of the time package. [Real] is the standard library
// behavior. [Fake] returns a clock that stands still until the test
// calls [FakeClock.Advance], which makes hour rollovers, midnight
// cleanup, and poll ticks deterministic:
//
//	fake := clock.Fake(time.Date(2026, 6, 1, 9, 59, 0, 0, time.UTC))
//	c, _ := collector.New(collector.Config{Clock: fake, ...})
//	c.Start(ctx)
//	fake.WaitForTimers(1)        // collector loop armed its ticker
//	fake.Advance(30 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a
// ticker and the test advancing past it.
package clock
