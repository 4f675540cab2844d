// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package energystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/solarwatch/lib/clock"
	"github.com/bureau-foundation/solarwatch/lib/sqlitepool"
)

// Fixed retention windows for the rollup tables, in days.
const (
	AggregateRetentionDays = 30
	SummaryRetentionDays   = 365
)

const day = 24 * time.Hour

// Store is the aggregation store. Safe for concurrent use.
type Store struct {
	pool     *sqlitepool.Pool
	clock    clock.Clock
	logger   *slog.Logger
	location *time.Location
}

// StoreConfig holds the parameters for opening a store.
type StoreConfig struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize is the number of pooled connections. Default: 4.
	PoolSize int

	// Clock stamps readings and drives retention cutoffs. Default: real.
	Clock clock.Clock

	Logger *slog.Logger

	// Location is the zone for date and hour buckets. Default:
	// time.Local.
	Location *time.Location
}

// OpenStore opens (creating if needed) the database at cfg.Path.
func OpenStore(cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	storeClock := cfg.Clock
	if storeClock == nil {
		storeClock = clock.Real()
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		Schema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: %w", err)
	}

	store := &Store{pool: pool, clock: storeClock, logger: logger, location: location}

	// Connections are prepared lazily; take one now so a bad path or a
	// schema error fails here rather than on the first reading.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("energystore: initializing schema: %w", err)
	}
	pool.Put(conn)

	return store, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Location returns the zone used for date and hour buckets.
func (s *Store) Location() *time.Location { return s.location }

// Today returns the current date key.
func (s *Store) Today() string {
	date, _ := DateHour(s.clock.Now(), s.location)
	return date
}

// read borrows a connection for fn.
func (s *Store) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("energystore: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// InsertReading appends a reading stamped with the current time.
func (s *Store) InsertReading(ctx context.Context, deviceID string, currentWatts, dailyYieldWh float64) (Reading, error) {
	if deviceID == "" {
		return Reading{}, errors.New("energystore: device id is required")
	}
	reading := Reading{
		Timestamp:    s.clock.Now().Truncate(time.Millisecond),
		DeviceID:     deviceID,
		CurrentWatts: currentWatts,
		DailyYieldWh: dailyYieldWh,
	}

	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO energy_readings (timestamp_ms, device_id, current_watts, daily_yield_wh)
			 VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{reading.Timestamp.UnixMilli(), deviceID, currentWatts, dailyYieldWh},
			})
		if err != nil {
			return err
		}
		reading.ID = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return Reading{}, fmt.Errorf("energystore: inserting reading for %s: %w", deviceID, err)
	}
	return reading, nil
}

// UpdateHourlyAggregate recomputes AVG, MAX, and COUNT of the readings
// in hour of date and upserts the result. An hour with no readings
// yields nil and writes nothing.
func (s *Store) UpdateHourlyAggregate(ctx context.Context, date string, hour int) (*HourlyAggregate, error) {
	start, end, err := HourWindow(date, hour, s.location)
	if err != nil {
		return nil, err
	}

	var aggregate *HourlyAggregate
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		var average, maximum float64
		var count int
		err := sqlitex.Execute(conn,
			`SELECT COALESCE(AVG(current_watts), 0), COALESCE(MAX(current_watts), 0), COUNT(*)
			 FROM energy_readings
			 WHERE timestamp_ms >= ? AND timestamp_ms < ?`,
			&sqlitex.ExecOptions{
				Args: []any{start.UnixMilli(), end.UnixMilli()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					average = stmt.ColumnFloat(0)
					maximum = stmt.ColumnFloat(1)
					count = stmt.ColumnInt(2)
					return nil
				},
			})
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}

		now := s.clock.Now()
		err = sqlitex.Execute(conn,
			`INSERT INTO hourly_aggregates (date, hour, avg_watts, max_watts, readings_count, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (date, hour) DO UPDATE SET
				avg_watts      = excluded.avg_watts,
				max_watts      = excluded.max_watts,
				readings_count = excluded.readings_count,
				updated_at_ms  = excluded.updated_at_ms`,
			&sqlitex.ExecOptions{
				Args: []any{date, hour, average, maximum, count, now.UnixMilli()},
			})
		if err != nil {
			return err
		}
		aggregate = &HourlyAggregate{
			Date:          date,
			Hour:          hour,
			AvgWatts:      average,
			MaxWatts:      maximum,
			ReadingsCount: count,
			UpdatedAt:     time.UnixMilli(now.UnixMilli()),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: updating aggregate %s %02d: %w", date, hour, err)
	}
	return aggregate, nil
}

// UpdateDailySummary upserts the summary for date. The total yield is
// always replaced. The peak is replaced only when the stored row has
// none or peak.Watts is strictly greater; a nil peak never touches the
// stored one. The comparison runs inside the upsert statement.
func (s *Store) UpdateDailySummary(ctx context.Context, date string, totalYieldWh float64, peak *Peak) (DailySummary, error) {
	if _, err := ParseDate(date, s.location); err != nil {
		return DailySummary{}, err
	}

	var peakWatts, peakTime any
	if peak != nil {
		peakWatts = peak.Watts
		peakTime = peak.Time.UnixMilli()
	}

	var summary DailySummary
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO daily_summaries (date, total_yield_wh, peak_watts, peak_time_ms, updated_at_ms)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (date) DO UPDATE SET
				total_yield_wh = excluded.total_yield_wh,
				peak_watts = CASE
					WHEN daily_summaries.peak_watts IS NULL
					  OR excluded.peak_watts > daily_summaries.peak_watts
					THEN excluded.peak_watts
					ELSE daily_summaries.peak_watts
				END,
				peak_time_ms = CASE
					WHEN daily_summaries.peak_watts IS NULL
					  OR excluded.peak_watts > daily_summaries.peak_watts
					THEN excluded.peak_time_ms
					ELSE daily_summaries.peak_time_ms
				END,
				updated_at_ms = excluded.updated_at_ms
			 RETURNING date, total_yield_wh, peak_watts, peak_time_ms, updated_at_ms`,
			&sqlitex.ExecOptions{
				Args: []any{date, totalYieldWh, peakWatts, peakTime, s.clock.Now().UnixMilli()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					summary = scanSummary(stmt)
					return nil
				},
			})
	})
	if err != nil {
		return DailySummary{}, fmt.Errorf("energystore: updating summary %s: %w", date, err)
	}
	return summary, nil
}

// GetCurrentDayStats assembles the view of date: each device's latest
// reading within the date, their summed power and yield, the stored
// peak, and the hourly series. When no readings remain for the date the
// yield falls back to the stored summary.
func (s *Store) GetCurrentDayStats(ctx context.Context, date string) (DayStats, error) {
	start, end, err := DayWindow(date, s.location)
	if err != nil {
		return DayStats{}, err
	}

	stats := DayStats{Date: date, Hourly: []HourlyAggregate{}, Devices: []Reading{}}
	err = s.read(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`SELECT id, timestamp_ms, device_id, current_watts, daily_yield_wh
			 FROM energy_readings
			 WHERE id IN (
				SELECT MAX(id) FROM energy_readings
				WHERE timestamp_ms >= ? AND timestamp_ms < ?
				GROUP BY device_id
			 )
			 ORDER BY device_id`,
			&sqlitex.ExecOptions{
				Args: []any{start.UnixMilli(), end.UnixMilli()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					reading := scanReading(stmt)
					stats.Devices = append(stats.Devices, reading)
					stats.CurrentWatts += reading.CurrentWatts
					stats.TotalYieldWh += reading.DailyYieldWh
					return nil
				},
			})
		if err != nil {
			return err
		}

		summary, err := querySummary(conn, date)
		if err != nil {
			return err
		}
		if summary != nil {
			if len(stats.Devices) == 0 {
				stats.TotalYieldWh = summary.TotalYieldWh
			}
			if summary.Peak != nil {
				stats.PeakWatts = summary.Peak.Watts
				peakTime := summary.Peak.Time
				stats.PeakTime = &peakTime
			}
		}

		stats.Hourly, err = queryHourly(conn, date)
		return err
	})
	if err != nil {
		return DayStats{}, fmt.Errorf("energystore: day stats %s: %w", date, err)
	}
	stats.TotalYieldKWh = roundTenth(stats.TotalYieldWh / 1000)
	return stats, nil
}

func roundTenth(value float64) float64 {
	return math.Round(value*10) / 10
}

// CleanupOldData deletes readings older than retentionDays, hourly
// aggregates older than 30 days, and daily summaries older than 365
// days, then vacuums the file. Date-keyed tables are compared by date
// key, so a row for the cutoff date itself survives.
func (s *Store) CleanupOldData(ctx context.Context, retentionDays int) (CleanupResult, error) {
	if retentionDays <= 0 {
		return CleanupResult{}, fmt.Errorf("energystore: retention must be positive, got %d days", retentionDays)
	}

	now := s.clock.Now()
	readingCutoff := now.Add(-time.Duration(retentionDays) * day).UnixMilli()
	aggregateCutoff, _ := DateHour(now.Add(-AggregateRetentionDays*day), s.location)
	summaryCutoff, _ := DateHour(now.Add(-SummaryRetentionDays*day), s.location)

	var result CleanupResult
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		deletes := []struct {
			query  string
			arg    any
			target *int
		}{
			{"DELETE FROM energy_readings WHERE timestamp_ms < ?", readingCutoff, &result.DeletedReadings},
			{"DELETE FROM hourly_aggregates WHERE date < ?", aggregateCutoff, &result.DeletedAggregates},
			{"DELETE FROM daily_summaries WHERE date < ?", summaryCutoff, &result.DeletedSummaries},
		}
		for _, deletion := range deletes {
			if err := sqlitex.Execute(conn, deletion.query, &sqlitex.ExecOptions{Args: []any{deletion.arg}}); err != nil {
				return err
			}
			*deletion.target = conn.Changes()
		}
		return nil
	})
	if err != nil {
		return CleanupResult{}, fmt.Errorf("energystore: cleanup: %w", err)
	}

	s.logger.Info("old data removed",
		"retention_days", retentionDays,
		"deleted_readings", result.DeletedReadings,
		"deleted_aggregates", result.DeletedAggregates,
		"deleted_summaries", result.DeletedSummaries,
	)

	if err := s.pool.Vacuum(ctx); err != nil {
		return result, fmt.Errorf("energystore: cleanup: %w", err)
	}
	return result, nil
}

// Readings returns readings with start <= timestamp <= end in
// timestamp order, optionally restricted to one device.
func (s *Store) Readings(ctx context.Context, start, end time.Time, deviceID string) ([]Reading, error) {
	query := `SELECT id, timestamp_ms, device_id, current_watts, daily_yield_wh
		FROM energy_readings
		WHERE timestamp_ms BETWEEN ? AND ?`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY timestamp_ms, id"

	readings := []Reading{}
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				readings = append(readings, scanReading(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: readings: %w", err)
	}
	return readings, nil
}

// LatestReading returns the most recent reading, of one device when
// deviceID is set. Nil when there is none.
func (s *Store) LatestReading(ctx context.Context, deviceID string) (*Reading, error) {
	query := `SELECT id, timestamp_ms, device_id, current_watts, daily_yield_wh FROM energy_readings`
	var args []any
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY timestamp_ms DESC, id DESC LIMIT 1"

	var latest *Reading
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				reading := scanReading(stmt)
				latest = &reading
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: latest reading: %w", err)
	}
	return latest, nil
}

// HourlyAggregates returns the stored aggregates of date by hour.
func (s *Store) HourlyAggregates(ctx context.Context, date string) ([]HourlyAggregate, error) {
	if _, err := ParseDate(date, s.location); err != nil {
		return nil, err
	}
	var aggregates []HourlyAggregate
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		aggregates, err = queryHourly(conn, date)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: hourly aggregates %s: %w", date, err)
	}
	return aggregates, nil
}

// DailySummary returns the summary of date, or nil if none exists.
func (s *Store) DailySummary(ctx context.Context, date string) (*DailySummary, error) {
	if _, err := ParseDate(date, s.location); err != nil {
		return nil, err
	}
	var summary *DailySummary
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		summary, err = querySummary(conn, date)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: daily summary %s: %w", date, err)
	}
	return summary, nil
}

// DailySummaries returns the summaries with from <= date <= to.
func (s *Store) DailySummaries(ctx context.Context, from, to string) ([]DailySummary, error) {
	for _, date := range []string{from, to} {
		if _, err := ParseDate(date, s.location); err != nil {
			return nil, err
		}
	}
	if from > to {
		return nil, fmt.Errorf("energystore: range %s..%s is reversed", from, to)
	}

	summaries := []DailySummary{}
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT date, total_yield_wh, peak_watts, peak_time_ms, updated_at_ms
			 FROM daily_summaries
			 WHERE date BETWEEN ? AND ?
			 ORDER BY date`,
			&sqlitex.ExecOptions{
				Args: []any{from, to},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					summaries = append(summaries, scanSummary(stmt))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("energystore: daily summaries: %w", err)
	}
	return summaries, nil
}

func queryHourly(conn *sqlite.Conn, date string) ([]HourlyAggregate, error) {
	aggregates := []HourlyAggregate{}
	err := sqlitex.Execute(conn,
		`SELECT date, hour, avg_watts, max_watts, readings_count, updated_at_ms
		 FROM hourly_aggregates
		 WHERE date = ?
		 ORDER BY hour`,
		&sqlitex.ExecOptions{
			Args: []any{date},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				aggregates = append(aggregates, HourlyAggregate{
					Date:          stmt.ColumnText(0),
					Hour:          stmt.ColumnInt(1),
					AvgWatts:      stmt.ColumnFloat(2),
					MaxWatts:      stmt.ColumnFloat(3),
					ReadingsCount: stmt.ColumnInt(4),
					UpdatedAt:     time.UnixMilli(stmt.ColumnInt64(5)),
				})
				return nil
			},
		})
	return aggregates, err
}

func querySummary(conn *sqlite.Conn, date string) (*DailySummary, error) {
	var summary *DailySummary
	err := sqlitex.Execute(conn,
		`SELECT date, total_yield_wh, peak_watts, peak_time_ms, updated_at_ms
		 FROM daily_summaries WHERE date = ?`,
		&sqlitex.ExecOptions{
			Args: []any{date},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned := scanSummary(stmt)
				summary = &scanned
				return nil
			},
		})
	return summary, err
}

// scanReading reads columns id, timestamp_ms, device_id,
// current_watts, daily_yield_wh.
func scanReading(stmt *sqlite.Stmt) Reading {
	return Reading{
		ID:           stmt.ColumnInt64(0),
		Timestamp:    time.UnixMilli(stmt.ColumnInt64(1)),
		DeviceID:     stmt.ColumnText(2),
		CurrentWatts: stmt.ColumnFloat(3),
		DailyYieldWh: stmt.ColumnFloat(4),
	}
}

// scanSummary reads columns date, total_yield_wh, peak_watts,
// peak_time_ms, updated_at_ms.
func scanSummary(stmt *sqlite.Stmt) DailySummary {
	summary := DailySummary{
		Date:         stmt.ColumnText(0),
		TotalYieldWh: stmt.ColumnFloat(1),
		UpdatedAt:    time.UnixMilli(stmt.ColumnInt64(4)),
	}
	if !stmt.ColumnIsNull(2) {
		summary.Peak = &Peak{
			Watts: stmt.ColumnFloat(2),
			Time:  time.UnixMilli(stmt.ColumnInt64(3)),
		}
	}
	return summary
}
