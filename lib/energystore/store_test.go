// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package energystore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/solarwatch/lib/clock"
)

// 2026-06-01 09:00 UTC.
var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	store, err := OpenStore(StoreConfig{
		Path:     filepath.Join(t.TempDir(), "solar.db"),
		Clock:    fake,
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store, fake
}

func insert(t *testing.T, store *Store, deviceID string, watts, yield float64) Reading {
	t.Helper()
	reading, err := store.InsertReading(context.Background(), deviceID, watts, yield)
	if err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
	return reading
}

func TestOpenStoreRejectsMissingDirectory(t *testing.T) {
	_, err := OpenStore(StoreConfig{Path: filepath.Join(t.TempDir(), "absent", "solar.db")})
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestInsertReading(t *testing.T) {
	store, _ := openTestStore(t)

	reading := insert(t, store, "east", 1500, 4200)
	if reading.ID == 0 {
		t.Error("reading ID not assigned")
	}
	if !reading.Timestamp.Equal(epoch) {
		t.Errorf("timestamp = %v, want clock time %v", reading.Timestamp, epoch)
	}

	latest, err := store.LatestReading(context.Background(), "east")
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if latest == nil || latest.ID != reading.ID || latest.CurrentWatts != 1500 || latest.DailyYieldWh != 4200 {
		t.Errorf("LatestReading = %+v, want %+v", latest, reading)
	}

	if _, err := store.InsertReading(context.Background(), "", 1, 1); err == nil {
		t.Error("expected error for empty device id")
	}
}

func TestLatestReadingAcrossDevices(t *testing.T) {
	store, fake := openTestStore(t)

	if latest, err := store.LatestReading(context.Background(), ""); err != nil || latest != nil {
		t.Fatalf("LatestReading on empty store = %+v, %v; want nil, nil", latest, err)
	}

	insert(t, store, "east", 100, 0)
	fake.Advance(time.Minute)
	west := insert(t, store, "west", 200, 0)

	latest, err := store.LatestReading(context.Background(), "")
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if latest == nil || latest.ID != west.ID {
		t.Errorf("LatestReading = %+v, want west reading", latest)
	}
}

func TestUpdateHourlyAggregate(t *testing.T) {
	store, fake := openTestStore(t)

	fake.Set(time.Date(2026, 6, 1, 10, 5, 0, 0, time.UTC))
	insert(t, store, "east", 100, 0)
	fake.Set(time.Date(2026, 6, 1, 10, 35, 0, 0, time.UTC))
	insert(t, store, "west", 300, 0)
	// Exactly on the next hour: belongs to hour 11, not 10.
	fake.Set(time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC))
	insert(t, store, "east", 999, 0)

	first, err := store.UpdateHourlyAggregate(context.Background(), "2026-06-01", 10)
	if err != nil {
		t.Fatalf("UpdateHourlyAggregate: %v", err)
	}
	if first == nil {
		t.Fatal("aggregate is nil for an hour with readings")
	}
	if first.AvgWatts != 200 || first.MaxWatts != 300 || first.ReadingsCount != 2 {
		t.Errorf("aggregate = %+v, want avg 200 max 300 count 2", first)
	}

	second, err := store.UpdateHourlyAggregate(context.Background(), "2026-06-01", 10)
	if err != nil {
		t.Fatalf("second UpdateHourlyAggregate: %v", err)
	}
	if second.AvgWatts != first.AvgWatts || second.MaxWatts != first.MaxWatts || second.ReadingsCount != first.ReadingsCount {
		t.Errorf("recomputed aggregate = %+v, want %+v", second, first)
	}

	stored, err := store.HourlyAggregates(context.Background(), "2026-06-01")
	if err != nil {
		t.Fatalf("HourlyAggregates: %v", err)
	}
	if len(stored) != 1 || stored[0].Hour != 10 || stored[0].ReadingsCount != 2 {
		t.Errorf("stored aggregates = %+v, want one row for hour 10", stored)
	}
}

func TestUpdateHourlyAggregateEmptyHour(t *testing.T) {
	store, _ := openTestStore(t)
	insert(t, store, "east", 100, 0)

	aggregate, err := store.UpdateHourlyAggregate(context.Background(), "2026-06-01", 3)
	if err != nil {
		t.Fatalf("UpdateHourlyAggregate: %v", err)
	}
	if aggregate != nil {
		t.Errorf("aggregate = %+v, want nil for an empty hour", aggregate)
	}

	stored, err := store.HourlyAggregates(context.Background(), "2026-06-01")
	if err != nil {
		t.Fatalf("HourlyAggregates: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("stored aggregates = %+v, want none", stored)
	}
}

func TestUpdateHourlyAggregateValidatesInput(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.UpdateHourlyAggregate(context.Background(), "2026-06-01", 24); err == nil {
		t.Error("expected error for hour 24")
	}
	if _, err := store.UpdateHourlyAggregate(context.Background(), "06/01/2026", 10); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestDailySummaryPeakIsMonotonic(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	at := func(hour int) time.Time { return time.Date(2026, 6, 1, hour, 0, 0, 0, time.UTC) }

	summary, err := store.UpdateDailySummary(ctx, "2026-06-01", 1000, &Peak{Watts: 500, Time: at(10)})
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if summary.Peak == nil || summary.Peak.Watts != 500 {
		t.Fatalf("summary = %+v, want peak 500", summary)
	}

	summary, err = store.UpdateDailySummary(ctx, "2026-06-01", 2000, &Peak{Watts: 400, Time: at(11)})
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if summary.TotalYieldWh != 2000 {
		t.Errorf("total = %v, want 2000 (always overwritten)", summary.TotalYieldWh)
	}
	if summary.Peak.Watts != 500 || !summary.Peak.Time.Equal(at(10)) {
		t.Errorf("peak = %+v, want 500 W at 10:00 kept", summary.Peak)
	}

	// An equal peak does not move the peak time.
	summary, err = store.UpdateDailySummary(ctx, "2026-06-01", 2100, &Peak{Watts: 500, Time: at(12)})
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if !summary.Peak.Time.Equal(at(10)) {
		t.Errorf("peak time = %v, want 10:00 kept on a tie", summary.Peak.Time)
	}

	summary, err = store.UpdateDailySummary(ctx, "2026-06-01", 2500, &Peak{Watts: 600, Time: at(13)})
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if summary.Peak.Watts != 600 || !summary.Peak.Time.Equal(at(13)) {
		t.Errorf("peak = %+v, want 600 W at 13:00", summary.Peak)
	}

	summary, err = store.UpdateDailySummary(ctx, "2026-06-01", 2600, nil)
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if summary.Peak == nil || summary.Peak.Watts != 600 || summary.TotalYieldWh != 2600 {
		t.Errorf("summary = %+v, want peak kept and total updated", summary)
	}

	stored, err := store.DailySummary(ctx, "2026-06-01")
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if stored == nil || stored.Peak.Watts != 600 || stored.TotalYieldWh != 2600 {
		t.Errorf("stored summary = %+v", stored)
	}
}

func TestDailySummaryWithoutPeakAcceptsLaterPeak(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	summary, err := store.UpdateDailySummary(ctx, "2026-06-01", 10, nil)
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if summary.Peak != nil {
		t.Fatalf("peak = %+v, want none", summary.Peak)
	}

	summary, err = store.UpdateDailySummary(ctx, "2026-06-01", 20, &Peak{Watts: 50, Time: epoch})
	if err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	if summary.Peak == nil || summary.Peak.Watts != 50 {
		t.Errorf("peak = %+v, want 50 W recorded over an empty peak", summary.Peak)
	}
}

func TestDailySummaryConcurrentPeaks(t *testing.T) {
	store, _ := openTestStore(t)

	const writers = 20
	var waitGroup sync.WaitGroup
	for index := range writers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			peak := &Peak{Watts: float64(index + 1), Time: epoch.Add(time.Duration(index) * time.Minute)}
			if _, err := store.UpdateDailySummary(context.Background(), "2026-06-01", 0, peak); err != nil {
				t.Errorf("UpdateDailySummary: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	summary, err := store.DailySummary(context.Background(), "2026-06-01")
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if summary.Peak.Watts != writers {
		t.Errorf("peak = %v, want %d regardless of write order", summary.Peak.Watts, writers)
	}
}

func TestGetCurrentDayStats(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	// Yesterday's late reading must not count toward today.
	fake.Set(time.Date(2026, 6, 1, 23, 50, 0, 0, time.UTC))
	insert(t, store, "east", 5, 9999)

	fake.Set(time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC))
	insert(t, store, "east", 200, 1000)
	insert(t, store, "west", 250, 1500)
	fake.Advance(30 * time.Second)
	insert(t, store, "east", 300, 1100)
	insert(t, store, "west", 450, 1600)

	if _, err := store.UpdateHourlyAggregate(ctx, "2026-06-02", 10); err != nil {
		t.Fatalf("UpdateHourlyAggregate: %v", err)
	}
	peakTime := fake.Now()
	if _, err := store.UpdateDailySummary(ctx, "2026-06-02", 2700, &Peak{Watts: 750, Time: peakTime}); err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}

	stats, err := store.GetCurrentDayStats(ctx, "2026-06-02")
	if err != nil {
		t.Fatalf("GetCurrentDayStats: %v", err)
	}
	if stats.CurrentWatts != 750 {
		t.Errorf("CurrentWatts = %v, want 750 (latest per device)", stats.CurrentWatts)
	}
	if stats.TotalYieldWh != 2700 || stats.TotalYieldKWh != 2.7 {
		t.Errorf("yield = %v Wh / %v kWh, want 2700 / 2.7", stats.TotalYieldWh, stats.TotalYieldKWh)
	}
	if stats.PeakWatts != 750 || stats.PeakTime == nil || !stats.PeakTime.Equal(peakTime) {
		t.Errorf("peak = %v at %v, want 750 at %v", stats.PeakWatts, stats.PeakTime, peakTime)
	}
	if len(stats.Devices) != 2 || stats.Devices[0].DeviceID != "east" || stats.Devices[1].DeviceID != "west" {
		t.Errorf("devices = %+v, want east and west", stats.Devices)
	}
	if len(stats.Hourly) != 1 || stats.Hourly[0].MaxWatts != 450 {
		t.Errorf("hourly = %+v, want one aggregate with max 450", stats.Hourly)
	}
}

func TestGetCurrentDayStatsFallsBackToSummary(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := store.UpdateDailySummary(ctx, "2026-05-20", 5040, nil); err != nil {
		t.Fatalf("UpdateDailySummary: %v", err)
	}
	stats, err := store.GetCurrentDayStats(ctx, "2026-05-20")
	if err != nil {
		t.Fatalf("GetCurrentDayStats: %v", err)
	}
	if stats.TotalYieldWh != 5040 || stats.TotalYieldKWh != 5.0 {
		t.Errorf("yield = %v / %v, want 5040 / 5.0 from summary", stats.TotalYieldWh, stats.TotalYieldKWh)
	}
	if stats.CurrentWatts != 0 || len(stats.Devices) != 0 || stats.PeakTime != nil {
		t.Errorf("stats = %+v, want no live data", stats)
	}
}

func TestCleanupOldData(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	old := insert(t, store, "east", 100, 0)
	fake.Advance(2 * day)
	recent := insert(t, store, "east", 200, 0)
	fake.Advance(6 * day)
	// Now: old is 8 days old, recent 6 days.

	seedAggregate(t, store, "2026-04-01", 12)
	seedAggregate(t, store, "2026-06-08", 12)
	for _, date := range []string{"2025-01-01", "2026-06-08"} {
		if _, err := store.UpdateDailySummary(ctx, date, 1, nil); err != nil {
			t.Fatalf("UpdateDailySummary: %v", err)
		}
	}

	result, err := store.CleanupOldData(ctx, 7)
	if err != nil {
		t.Fatalf("CleanupOldData: %v", err)
	}
	want := CleanupResult{DeletedReadings: 1, DeletedAggregates: 1, DeletedSummaries: 1}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}

	readings, err := store.Readings(ctx, epoch.Add(-day), fake.Now(), "")
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(readings) != 1 || readings[0].ID != recent.ID {
		t.Errorf("remaining readings = %+v, want only %d (deleted %d)", readings, recent.ID, old.ID)
	}

	if summary, _ := store.DailySummary(ctx, "2026-06-08"); summary == nil {
		t.Error("recent summary deleted")
	}
	if aggregates, _ := store.HourlyAggregates(ctx, "2026-06-08"); len(aggregates) != 1 {
		t.Error("recent aggregate deleted")
	}
}

func TestCleanupOldDataRejectsNonPositiveRetention(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.CleanupOldData(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero retention")
	}
}

func TestReadingsFiltersByRangeAndDevice(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	first := insert(t, store, "east", 1, 0)
	fake.Advance(time.Minute)
	insert(t, store, "west", 2, 0)
	fake.Advance(time.Minute)
	third := insert(t, store, "east", 3, 0)
	fake.Advance(time.Minute)
	insert(t, store, "east", 4, 0)

	readings, err := store.Readings(ctx, first.Timestamp, third.Timestamp, "east")
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(readings) != 2 || readings[0].ID != first.ID || readings[1].ID != third.ID {
		t.Errorf("readings = %+v, want first and third (inclusive bounds)", readings)
	}

	all, err := store.Readings(ctx, first.Timestamp, fake.Now(), "")
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("got %d readings, want 4", len(all))
	}
}

func TestDailySummariesRange(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for index, date := range []string{"2026-05-30", "2026-05-31", "2026-06-01", "2026-06-02"} {
		if _, err := store.UpdateDailySummary(ctx, date, float64(index), nil); err != nil {
			t.Fatalf("UpdateDailySummary: %v", err)
		}
	}

	summaries, err := store.DailySummaries(ctx, "2026-05-31", "2026-06-01")
	if err != nil {
		t.Fatalf("DailySummaries: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Date != "2026-05-31" || summaries[1].Date != "2026-06-01" {
		t.Errorf("summaries = %+v", summaries)
	}

	if _, err := store.DailySummaries(ctx, "2026-06-02", "2026-05-30"); err == nil {
		t.Error("expected error for reversed range")
	}
	if _, err := store.DailySummaries(ctx, "yesterday", "2026-05-30"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestBucketsFollowLocation(t *testing.T) {
	plusTwo := time.FixedZone("UTC+2", 2*60*60)
	fake := clock.Fake(time.Date(2026, 6, 1, 22, 30, 0, 0, time.UTC))
	store, err := OpenStore(StoreConfig{
		Path:     filepath.Join(t.TempDir(), "zone.db"),
		Clock:    fake,
		Location: plusTwo,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	// 22:30 UTC is 00:30 on June 2nd at UTC+2.
	date, hour := DateHour(fake.Now(), store.Location())
	if date != "2026-06-02" || hour != 0 {
		t.Fatalf("DateHour = %s %d, want 2026-06-02 0", date, hour)
	}
	if store.Today() != "2026-06-02" {
		t.Errorf("Today() = %s, want 2026-06-02", store.Today())
	}

	insert(t, store, "east", 120, 0)
	aggregate, err := store.UpdateHourlyAggregate(context.Background(), date, hour)
	if err != nil {
		t.Fatalf("UpdateHourlyAggregate: %v", err)
	}
	if aggregate == nil || aggregate.ReadingsCount != 1 {
		t.Errorf("aggregate = %+v, want the reading bucketed into local hour 0", aggregate)
	}
}

// seedAggregate writes an aggregate row directly, for dates too far
// from the fake clock to populate through readings.
func seedAggregate(t *testing.T, store *Store, date string, hour int) {
	t.Helper()
	err := store.pool.Write(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO hourly_aggregates (date, hour, avg_watts, max_watts, readings_count, updated_at_ms)
			 VALUES (?, ?, 1, 1, 1, 0)`,
			&sqlitex.ExecOptions{Args: []any{date, hour}})
	})
	if err != nil {
		t.Fatalf("seeding aggregate: %v", err)
	}
}
