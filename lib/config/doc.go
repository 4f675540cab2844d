// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the solarwatch collector configuration.
//
// Configuration comes from a single file named by the --config flag or
// the SOLARWATCH_CONFIG environment variable. YAML is the primary
// format; files ending in .json or .jsonc are accepted too and are
// stripped of comments and trailing commas before decoding.
//
// Loading happens in a fixed order:
//
//  1. [LoadEnvFiles] reads .env files (default .env.local) into the
//     process environment. Variables already set are never replaced.
//  2. The file is decoded over [Default].
//  3. The development or production section overrides base values
//     when [Config].Environment matches.
//  4. Legacy environment variables (INVERTER_PASS, POLL_INTERVAL_SECONDS,
//     DB_PATH, PORT, ...) override the file, so an existing .env.local
//     from earlier deployments keeps working.
//  5. ${VAR} and ${VAR:-default} are expanded in string fields.
//  6. Device defaults are folded into each inverter entry.
//
// [Config.Validate] reports every problem at once with errors.Join.
package config
