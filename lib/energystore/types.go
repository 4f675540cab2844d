// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package energystore

import (
	"fmt"
	"time"
)

// DateLayout is the format of every date key.
const DateLayout = "2006-01-02"

// Reading is one raw sample from one device.
type Reading struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	DeviceID     string    `json:"device_id"`
	CurrentWatts float64   `json:"current_watts"`
	DailyYieldWh float64   `json:"daily_yield_wh"`
}

// HourlyAggregate summarizes the readings of one clock hour.
type HourlyAggregate struct {
	Date          string    `json:"date"`
	Hour          int       `json:"hour"`
	AvgWatts      float64   `json:"avg_watts"`
	MaxWatts      float64   `json:"max_watts"`
	ReadingsCount int       `json:"readings_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Peak is a power level and the moment it was observed.
type Peak struct {
	Watts float64   `json:"watts"`
	Time  time.Time `json:"time"`
}

// DailySummary is the per-date rollup. Peak is nil until a peak has
// been recorded.
type DailySummary struct {
	Date         string    `json:"date"`
	TotalYieldWh float64   `json:"total_yield_wh"`
	Peak         *Peak     `json:"peak,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DayStats is the read model for one date: current output, yield, peak,
// the hourly series, and each device's latest reading.
type DayStats struct {
	Date          string            `json:"date"`
	CurrentWatts  float64           `json:"current_watts"`
	TotalYieldWh  float64           `json:"total_yield_wh"`
	TotalYieldKWh float64           `json:"total_yield_kwh"`
	PeakWatts     float64           `json:"peak_watts"`
	PeakTime      *time.Time        `json:"peak_time,omitempty"`
	Hourly        []HourlyAggregate `json:"hourly"`
	Devices       []Reading         `json:"devices"`
}

// CleanupResult counts the rows removed by CleanupOldData.
type CleanupResult struct {
	DeletedReadings   int `json:"deleted_readings"`
	DeletedAggregates int `json:"deleted_aggregates"`
	DeletedSummaries  int `json:"deleted_summaries"`
}

// DateHour returns the date key and hour of t in location.
func DateHour(t time.Time, location *time.Location) (string, int) {
	local := t.In(location)
	return local.Format(DateLayout), local.Hour()
}

// HourWindow returns the half-open window [start, end) of hour on date
// in location. Across a DST change the window is whatever wall-clock
// hour hour:00 to hour+1:00 spans.
func HourWindow(date string, hour int, location *time.Location) (time.Time, time.Time, error) {
	if hour < 0 || hour > 23 {
		return time.Time{}, time.Time{}, fmt.Errorf("energystore: hour %d out of range 0-23", hour)
	}
	day, err := ParseDate(date, location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, location)
	end := time.Date(day.Year(), day.Month(), day.Day(), hour+1, 0, 0, 0, location)
	return start, end, nil
}

// DayWindow returns the half-open window [midnight, next midnight) of
// date in location.
func DayWindow(date string, location *time.Location) (time.Time, time.Time, error) {
	day, err := ParseDate(date, location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return day, time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, location), nil
}

// ParseDate parses a YYYY-MM-DD key as midnight in location.
func ParseDate(date string, location *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("energystore: invalid date %q: want YYYY-MM-DD", date)
	}
	return day, nil
}
