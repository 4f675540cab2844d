// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper used by main before the
// structured logger exists (or after it failed to build).
package process
