// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package energystore persists inverter readings and the hourly and
// daily rollups derived from them, in a single SQLite file.
//
// Three tables:
//
//   - energy_readings: append-only raw samples, one row per device per
//     collection cycle. Kept for a configurable number of days.
//   - hourly_aggregates: AVG/MAX/COUNT of readings in one clock hour,
//     keyed by (date, hour). Recomputed from readings and overwritten,
//     so recomputing an hour is idempotent. Kept 30 days.
//   - daily_summaries: one row per date holding the latest total yield
//     and the day's peak power. The peak only ever rises within a date.
//     Kept 365 days.
//
// Dates are YYYY-MM-DD strings and hours 0-23, both computed in the
// store's Location so that a reading's date and hour always agree with
// the window it is aggregated into. Hour windows are half-open:
// [hh:00:00, hh+1:00:00).
//
// # Concurrency
//
// Every write goes through sqlitepool.Pool.Write: one IMMEDIATE
// transaction at a time under a process-wide mutex. The daily peak
// comparison happens inside a single INSERT ... ON CONFLICT DO UPDATE
// statement against the stored row, so concurrent updates cannot lose
// a higher peak. Reads use their own pooled connection and see the
// last committed state (WAL).
package energystore
