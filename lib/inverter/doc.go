// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inverter is a client for the session-authenticated JSON web
// interface that residential solar inverters expose on the local
// network.
//
// The protocol has two endpoints. POST /dyn/login.json with
// {"right":"usr","pass":...} returns {"result":{"sid":...}}. POST
// /dyn/getValues.json?sid=<sid> with {"destDev":[],"keys":[...]}
// returns values nested as result[dataID][key]["1"][0].val. When the
// session has expired the device answers {"err":401} instead.
//
// A [Client] owns exactly one session per device. It logs in lazily on
// the first value request and again whenever the device reports the
// session stale. [Client.FetchValues] retries a stale session at most
// [MaxCallAttempts] times per call; a failed login consumes an attempt
// as well. The higher-level reads ([Client.CurrentWatts],
// [Client.DailyYield], [Client.MultipleValues]) never surface protocol
// problems: an exhausted session, a failed login, or a response of the
// wrong shape is logged and yields 0 (or an empty map). Only transport
// failures ([*TransportError]) and context cancellation reach the
// caller, which is how the collector knows to drop the device for the
// current cycle.
//
// Devices serve self-signed certificates. Each Client builds its own
// resty client with certificate verification disabled, so the process
// default transport keeps verifying everything else.
//
// Logins are paced by a token-bucket limiter (Config.LoginInterval).
// Some firmware locks the user account after a burst of logins, and a
// flapping session would otherwise produce exactly that burst.
package inverter
