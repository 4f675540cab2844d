// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides solarwatch's CBOR encoding configuration.
//
// JSON is the default format of the status API. Clients that send
// "Accept: application/cbor" (embedded dashboards and loggers that
// poll every few seconds) get the same values as CBOR instead. The
// API types carry only `json` tags; fxamacker/cbor v2 falls back to
// them, so one tag controls field naming and omitempty for both
// formats.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2) with
// times as RFC 3339 strings carrying nanoseconds, so a timestamp
// survives the trip with the precision the store keeps.
//
//	data, err := codec.Marshal(stats)
//	err = codec.Unmarshal(data, &stats)
package codec
