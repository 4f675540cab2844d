// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package influxsink mirrors inverter readings into InfluxDB 2.x so
// they can be graphed alongside other telemetry. The SQLite store
// remains the source of truth; the mirror is best effort.
package influxsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/bureau-foundation/solarwatch/lib/energystore"
)

// Measurement is the measurement name of every point written.
const Measurement = "inverter_reading"

// Config holds the InfluxDB connection parameters.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Logger *slog.Logger
}

// Sink writes one point per reading with the blocking write API.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
	bucket   string
}

// New creates a Sink. It does not contact the server.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influxsink: URL, Org, and Bucket are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	logger.Info("influx mirror enabled", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)

	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
		bucket:   cfg.Bucket,
	}, nil
}

// WriteReading writes reading as a point tagged with its device.
func (s *Sink) WriteReading(ctx context.Context, reading energystore.Reading) error {
	point := influxdb2.NewPoint(
		Measurement,
		map[string]string{"device": reading.DeviceID},
		map[string]any{
			"watts":          reading.CurrentWatts,
			"daily_yield_wh": reading.DailyYieldWh,
		},
		reading.Timestamp,
	)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influxsink: writing %s reading to %s: %w", reading.DeviceID, s.bucket, err)
	}
	return nil
}

// Close releases the client's idle connections.
func (s *Sink) Close() {
	s.client.Close()
}
