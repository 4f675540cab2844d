// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package energystore

// schema is applied to every new connection. All statements must be
// idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS energy_readings (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ms   INTEGER NOT NULL,
	device_id      TEXT    NOT NULL,
	current_watts  REAL    NOT NULL DEFAULT 0,
	daily_yield_wh REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_readings_timestamp
	ON energy_readings (timestamp_ms);

CREATE INDEX IF NOT EXISTS idx_readings_device_timestamp
	ON energy_readings (device_id, timestamp_ms);

CREATE TABLE IF NOT EXISTS hourly_aggregates (
	date           TEXT    NOT NULL,
	hour           INTEGER NOT NULL CHECK (hour BETWEEN 0 AND 23),
	avg_watts      REAL    NOT NULL DEFAULT 0,
	max_watts      REAL    NOT NULL DEFAULT 0,
	readings_count INTEGER NOT NULL DEFAULT 0,
	updated_at_ms  INTEGER NOT NULL,
	PRIMARY KEY (date, hour)
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	date           TEXT    PRIMARY KEY,
	total_yield_wh REAL    NOT NULL,
	peak_watts     REAL,
	peak_time_ms   INTEGER,
	updated_at_ms  INTEGER NOT NULL
);
`
