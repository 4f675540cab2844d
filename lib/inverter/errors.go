// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inverter

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the login response carried no session id.
	// The client stays unauthenticated and logs in again on next use.
	ErrAuthentication = errors.New("inverter: authentication failed")

	// ErrStaleSession means the device rejected the session token on
	// every one of MaxCallAttempts attempts.
	ErrStaleSession = errors.New("inverter: session still stale after retries")

	// ErrResponseParse means a response did not have the expected shape.
	ErrResponseParse = errors.New("inverter: unexpected response shape")
)

// TransportError is a network, TLS, or HTTP-level failure talking to a
// device. The collector treats it as "no data from this device this
// cycle".
type TransportError struct {
	// Device is the client's ID.
	Device string

	// Op is "login" or "getValues".
	Op string

	// StatusCode is the HTTP status when the device answered with a
	// non-2xx status and an undecodable body; zero otherwise.
	StatusCode int

	Err error
}

func (err *TransportError) Error() string {
	if err.StatusCode != 0 {
		return fmt.Sprintf("inverter %s: %s: HTTP %d: %v", err.Device, err.Op, err.StatusCode, err.Err)
	}
	return fmt.Sprintf("inverter %s: %s: %v", err.Device, err.Op, err.Err)
}

func (err *TransportError) Unwrap() error { return err.Err }

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var transportError *TransportError
	return errors.As(err, &transportError)
}

// recoverable reports whether err maps to a default value rather than
// being returned from the high-level reads.
func recoverable(err error) bool {
	return errors.Is(err, ErrStaleSession) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrResponseParse)
}
