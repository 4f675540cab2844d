// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/solarwatch/lib/clock"
	"github.com/bureau-foundation/solarwatch/lib/energystore"
)

// ErrCycleInProgress is returned by Collect when another cycle is
// running.
var ErrCycleInProgress = errors.New("collector: collection cycle already in progress")

const (
	defaultInterval      = 30 * time.Second
	defaultRetentionDays = 7
)

// Device is one polled inverter. *inverter.Client implements it.
type Device interface {
	ID() string
	CurrentWatts(ctx context.Context) (float64, error)
	DailyYield(ctx context.Context) (float64, error)
}

// Store is the subset of *energystore.Store the collector writes to.
type Store interface {
	InsertReading(ctx context.Context, deviceID string, currentWatts, dailyYieldWh float64) (energystore.Reading, error)
	UpdateHourlyAggregate(ctx context.Context, date string, hour int) (*energystore.HourlyAggregate, error)
	UpdateDailySummary(ctx context.Context, date string, totalYieldWh float64, peak *energystore.Peak) (energystore.DailySummary, error)
	CleanupOldData(ctx context.Context, retentionDays int) (energystore.CleanupResult, error)
}

// Sink receives a copy of every stored reading.
type Sink interface {
	WriteReading(ctx context.Context, reading energystore.Reading) error
}

// Config holds the collector's dependencies and schedule.
type Config struct {
	Devices []Device
	Store   Store

	// Sink is optional. Its failures are logged, never fatal.
	Sink Sink

	// Interval between cycles. Default: 30s.
	Interval time.Duration

	// RetentionDays is passed to Store.CleanupOldData. Default: 7.
	RetentionDays int

	// Location must match the store's, so the collector's date and hour
	// name the same windows the store aggregates. Default: time.Local.
	Location *time.Location

	Clock  clock.Clock
	Logger *slog.Logger
}

// DeviceResult is one device's contribution to a cycle.
type DeviceResult struct {
	DeviceID     string  `json:"device_id"`
	Watts        float64 `json:"watts"`
	DailyYieldWh float64 `json:"daily_yield_wh"`
	Error        string  `json:"error,omitempty"`
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	ID              string         `json:"id"`
	Started         time.Time      `json:"started"`
	Duration        time.Duration  `json:"duration_ns"`
	Date            string         `json:"date"`
	Hour            int            `json:"hour"`
	TotalWatts      float64        `json:"total_watts"`
	TotalDailyYield float64        `json:"total_daily_yield_wh"`
	MaxWatts        float64        `json:"max_watts"`
	Devices         []DeviceResult `json:"devices"`
}

// Collector schedules collection cycles. Create with New.
type Collector struct {
	devices       []Device
	store         Store
	sink          Sink
	interval      time.Duration
	retentionDays int
	location      *time.Location
	clock         clock.Clock
	logger        *slog.Logger

	// cycleMu is held for the duration of a cycle and guards the
	// boundary-tracking fields below it.
	cycleMu   sync.Mutex
	havePrior bool
	priorDate string
	priorHour int

	// mu guards the loop lifecycle and lastCycle.
	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	lastCycle *CycleResult
}

// New validates cfg and returns a stopped Collector.
func New(cfg Config) (*Collector, error) {
	if cfg.Store == nil {
		return nil, errors.New("collector: Store is required")
	}
	if len(cfg.Devices) == 0 {
		return nil, errors.New("collector: at least one device is required")
	}
	for index, device := range cfg.Devices {
		if device == nil {
			return nil, fmt.Errorf("collector: device %d is nil", index)
		}
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	collectorClock := cfg.Clock
	if collectorClock == nil {
		collectorClock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	close(done)

	return &Collector{
		devices:       cfg.Devices,
		store:         cfg.Store,
		sink:          cfg.Sink,
		interval:      interval,
		retentionDays: retentionDays,
		location:      location,
		clock:         collectorClock,
		logger:        logger,
		done:          done,
	}, nil
}

// Start launches the collection loop. The first cycle runs at once.
// Calling Start while the loop is running logs a warning and does
// nothing. ctx bounds the loop and every cycle it runs.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("collector already running")
		return
	}
	c.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop = stop
	c.done = done
	c.mu.Unlock()

	c.logger.Info("collector starting", "interval", c.interval, "devices", len(c.devices))
	go c.loop(ctx, stop, done)
}

// Stop prevents further cycles. An in-flight cycle completes; wait on
// Done to observe the loop exit. Stop is idempotent.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
	c.logger.Info("collector stopping")
}

// Done returns a channel closed when the most recently started loop
// has exited. Before the first Start it is already closed.
func (c *Collector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Running reports whether the loop is running and has not been asked
// to stop.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LastCycle returns the most recently completed cycle.
func (c *Collector) LastCycle() (CycleResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCycle == nil {
		return CycleResult{}, false
	}
	return *c.lastCycle, true
}

func (c *Collector) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if c.stop == stop {
			c.running = false
		}
		c.mu.Unlock()
	}()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.loopCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		// A tick and a stop can be ready together; stop wins.
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		c.loopCycle(ctx)
	}
}

func (c *Collector) loopCycle(ctx context.Context) {
	if _, err := c.Collect(ctx); errors.Is(err, ErrCycleInProgress) {
		c.logger.Warn("skipping tick, previous cycle still running")
	}
}

// Collect runs one cycle now. It returns ErrCycleInProgress without
// doing anything when a cycle is already running. Every other failure
// is logged and reflected in the result.
func (c *Collector) Collect(ctx context.Context) (CycleResult, error) {
	if !c.cycleMu.TryLock() {
		return CycleResult{}, ErrCycleInProgress
	}
	defer c.cycleMu.Unlock()

	result := c.runCycle(ctx)

	c.mu.Lock()
	c.lastCycle = &result
	c.mu.Unlock()
	return result, nil
}

// runCycle is one collection cycle. Caller holds cycleMu.
func (c *Collector) runCycle(ctx context.Context) CycleResult {
	started := c.clock.Now()
	date, hour := energystore.DateHour(started, c.location)
	result := CycleResult{
		ID:      uuid.NewString(),
		Started: started,
		Date:    date,
		Hour:    hour,
	}
	logger := c.logger.With("cycle_id", result.ID)
	logger.Debug("collection cycle starting", "date", date, "hour", hour)

	result.Devices = c.readDevices(ctx)
	for _, device := range result.Devices {
		if device.Error != "" {
			logger.Error("device read failed", "device", device.DeviceID, "error", device.Error)
			continue
		}
		result.TotalWatts += device.Watts
		result.TotalDailyYield += device.DailyYieldWh
		result.MaxWatts = max(result.MaxWatts, device.Watts)
		c.record(ctx, logger, device)
	}

	logger.Info("collected",
		"total_watts", result.TotalWatts,
		"total_daily_yield_wh", result.TotalDailyYield,
		"max_watts", result.MaxWatts,
		"devices", len(result.Devices),
	)

	if result.TotalWatts > 0 {
		peak := &energystore.Peak{Watts: result.TotalWatts, Time: started}
		if _, err := c.store.UpdateDailySummary(ctx, date, result.TotalDailyYield, peak); err != nil {
			logger.Error("updating daily summary failed", "date", date, "error", err)
		}
	}

	c.handleBoundaries(ctx, logger, date, hour)

	result.Duration = c.clock.Now().Sub(started)
	return result
}

// record stores one device's reading and mirrors it to the sink.
func (c *Collector) record(ctx context.Context, logger *slog.Logger, device DeviceResult) {
	reading, err := c.store.InsertReading(ctx, device.DeviceID, device.Watts, device.DailyYieldWh)
	if err != nil {
		logger.Error("storing reading failed", "device", device.DeviceID, "error", err)
		return
	}
	if c.sink == nil {
		return
	}
	if err := c.sink.WriteReading(ctx, reading); err != nil {
		logger.Warn("mirroring reading failed", "device", device.DeviceID, "error", err)
	}
}

// handleBoundaries finalizes the previous hour when the hour changed
// and runs retention cleanup when the date changed. Caller holds
// cycleMu.
func (c *Collector) handleBoundaries(ctx context.Context, logger *slog.Logger, date string, hour int) {
	hourChanged := !c.havePrior || c.priorDate != date || c.priorHour != hour
	dateChanged := c.havePrior && c.priorDate != date

	if hourChanged {
		if c.havePrior {
			logger.Info("finalizing hourly aggregate", "date", c.priorDate, "hour", c.priorHour)
			if _, err := c.store.UpdateHourlyAggregate(ctx, c.priorDate, c.priorHour); err != nil {
				logger.Error("finalizing hourly aggregate failed",
					"date", c.priorDate, "hour", c.priorHour, "error", err)
			}
		}
		if _, err := c.store.UpdateHourlyAggregate(ctx, date, hour); err != nil {
			logger.Error("updating hourly aggregate failed", "date", date, "hour", hour, "error", err)
		}
	}

	if dateChanged {
		logger.Info("running daily cleanup", "retention_days", c.retentionDays)
		if _, err := c.store.CleanupOldData(ctx, c.retentionDays); err != nil {
			logger.Error("daily cleanup failed", "error", err)
		}
	}

	c.havePrior = true
	c.priorDate = date
	c.priorHour = hour
}

// UpdateCurrentHourAggregate recomputes the aggregate of the hour in
// progress, for callers that want fresh data between boundaries.
func (c *Collector) UpdateCurrentHourAggregate(ctx context.Context) (*energystore.HourlyAggregate, error) {
	date, hour := energystore.DateHour(c.clock.Now(), c.location)
	aggregate, err := c.store.UpdateHourlyAggregate(ctx, date, hour)
	if err != nil {
		return nil, fmt.Errorf("collector: current hour aggregate: %w", err)
	}
	return aggregate, nil
}

// readDevices reads every device concurrently. Results keep device
// order.
func (c *Collector) readDevices(ctx context.Context) []DeviceResult {
	results := make([]DeviceResult, len(c.devices))
	var group errgroup.Group
	for index, device := range c.devices {
		group.Go(func() error {
			results[index] = readDevice(ctx, device)
			return nil
		})
	}
	group.Wait()
	return results
}

// readDevice fetches watts and daily yield in parallel. Any error or
// panic marks the whole device failed.
func readDevice(ctx context.Context, device Device) (result DeviceResult) {
	result.DeviceID = deviceID(device)
	if result.DeviceID == "" {
		result.Error = "device id unavailable"
		return result
	}

	var watts, yield float64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		watts, err = guard(func() (float64, error) { return device.CurrentWatts(groupCtx) })
		return err
	})
	group.Go(func() (err error) {
		yield, err = guard(func() (float64, error) { return device.DailyYield(groupCtx) })
		return err
	})
	if err := group.Wait(); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Watts = watts
	result.DailyYieldWh = yield
	return result
}

func deviceID(device Device) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	return device.ID()
}

// guard converts a panic in read into an error.
func guard(read func() (float64, error)) (value float64, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("collector: device read panicked: %v", recovered)
		}
	}()
	return read()
}
