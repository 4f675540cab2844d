// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for solarwatch packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so scheduler and HTTP tests never hang when a goroutine
// fails to report. Timing inside the tests themselves is driven by the
// fake clock in lib/clock; the real-time timeout here only bounds a
// broken test.
package testutil
