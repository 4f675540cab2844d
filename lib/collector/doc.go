// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector drives periodic collection from a set of inverters
// into the energy store.
//
// A [Collector] owns one loop goroutine. [Collector.Start] runs a
// cycle immediately and then one per tick of the configured interval.
// [Collector.Stop] is advisory: it prevents further cycles but lets
// the one in flight finish, after which [Collector.Done] closes.
//
// One cycle:
//
//  1. Every device is read concurrently; each device's watts and daily
//     yield are themselves fetched in parallel. A device that errors or
//     panics is logged and contributes nothing this cycle.
//  2. Each successful device becomes a Reading (mirrored to the
//     optional Sink).
//  3. When total power is positive the daily summary is updated with
//     the summed yield and the total as a candidate peak.
//  4. When the clock hour has changed since the previous cycle, the
//     hour that ended is aggregated (on its own date, which matters at
//     midnight) and the new hour gets a first aggregate.
//  5. When the date has changed, retention cleanup runs. This happens
//     exactly once per date boundary.
//
// Cycles never overlap. The loop itself is sequential, and a
// [Collector.Collect] call that arrives while a cycle is running
// returns [ErrCycleInProgress] rather than waiting.
package collector
