// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Solarwatch polls a fleet of solar inverters over their local JSON
// API, stores the readings in SQLite with hourly and daily rollups, and
// serves the results over a small read-only HTTP API.
//
// Usage:
//
//	solarwatch --config /etc/solarwatch/config.yaml
//	solarwatch --env-file .env --env-file .env.local --log-format json
//
// The config path may also come from SOLARWATCH_CONFIG. Env files are
// loaded before the config is parsed so that ${VAR} references and the
// legacy overrides (INVERTER_PASS, POLL_INTERVAL_SECONDS, DB_PATH, ...)
// can be supplied from them. Variables already set in the process
// environment win.
//
// SIGINT or SIGTERM stops the collection loop, waits for the in-flight
// cycle to finish, drains the HTTP server, then closes the store.
package main
