// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/solarwatch/lib/clock"
	"github.com/bureau-foundation/solarwatch/lib/codec"
	"github.com/bureau-foundation/solarwatch/lib/collector"
	"github.com/bureau-foundation/solarwatch/lib/energystore"
	"github.com/bureau-foundation/solarwatch/lib/inverter"
	"github.com/bureau-foundation/solarwatch/lib/version"
)

const (
	// defaultHistoryDays is the /stats/daily window when from is omitted.
	defaultHistoryDays = 7

	probeTimeout = 15 * time.Second
)

// statsStore is the read side of *energystore.Store.
type statsStore interface {
	Today() string
	Location() *time.Location
	GetCurrentDayStats(ctx context.Context, date string) (energystore.DayStats, error)
	HourlyAggregates(ctx context.Context, date string) ([]energystore.HourlyAggregate, error)
	DailySummaries(ctx context.Context, from, to string) ([]energystore.DailySummary, error)
}

// liveSource is the part of *collector.Collector the API reads.
type liveSource interface {
	Running() bool
	LastCycle() (collector.CycleResult, bool)
	UpdateCurrentHourAggregate(ctx context.Context) (*energystore.HourlyAggregate, error)
}

// prober is implemented by *inverter.Client.
type prober interface {
	TestConnectivity(ctx context.Context) inverter.ConnectivityReport
}

type api struct {
	store     statsStore
	live      liveSource
	probers   []prober
	clock     clock.Clock
	logger    *slog.Logger
	startedAt time.Time
}

// handler returns the routed API wrapped in CORS for GET requests from
// allowedOrigins. Responses are gzipped for clients that accept it.
func (a *api) handler(allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/live/watts", a.handleLiveWatts).Methods(http.MethodGet)
	router.HandleFunc("/stats/today", a.handleToday).Methods(http.MethodGet)
	router.HandleFunc("/stats/hourly/{date}", a.handleHourly).Methods(http.MethodGet)
	router.HandleFunc("/stats/daily", a.handleDaily).Methods(http.MethodGet)
	router.HandleFunc("/inverters/status", a.handleInverterStatus).Methods(http.MethodGet)

	withCORS := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler(router)
	return gzhttp.GzipHandler(withCORS)
}

type healthResponse struct {
	Status           string `json:"status"`
	CollectorRunning bool   `json:"collector_running"`
	Version          string `json:"version"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, http.StatusOK, healthResponse{
		Status:           "ok",
		CollectorRunning: a.live.Running(),
		Version:          version.Info(),
		UptimeSeconds:    int64(a.clock.Now().Sub(a.startedAt) / time.Second),
	})
}

func (a *api) handleLiveWatts(w http.ResponseWriter, r *http.Request) {
	cycle, ok := a.live.LastCycle()
	if !ok {
		a.writeError(w, r, http.StatusServiceUnavailable, "no collection cycle has completed yet")
		return
	}
	a.respond(w, r, http.StatusOK, cycle)
}

func (a *api) handleToday(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := a.live.UpdateCurrentHourAggregate(ctx); err != nil {
		// Stale hourly data is still worth serving.
		a.logger.Warn("refreshing current hour aggregate failed", "error", err)
	}

	stats, err := a.store.GetCurrentDayStats(ctx, a.store.Today())
	if err != nil {
		a.writeInternal(w, r, "reading today's stats", err)
		return
	}
	a.respond(w, r, http.StatusOK, stats)
}

func (a *api) handleHourly(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := energystore.ParseDate(date, a.store.Location()); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	hourly, err := a.store.HourlyAggregates(r.Context(), date)
	if err != nil {
		a.writeInternal(w, r, "reading hourly aggregates", err)
		return
	}
	if hourly == nil {
		hourly = []energystore.HourlyAggregate{}
	}
	a.respond(w, r, http.StatusOK, map[string]any{"date": date, "hourly": hourly})
}

func (a *api) handleDaily(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	to := query.Get("to")
	if to == "" {
		to = a.store.Today()
	}
	from := query.Get("from")
	if from == "" {
		end, err := energystore.ParseDate(to, a.store.Location())
		if err != nil {
			a.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		from = end.AddDate(0, 0, -(defaultHistoryDays - 1)).Format(energystore.DateLayout)
	}

	// DailySummaries only fails on its arguments or on the database;
	// validate first so the two map to different statuses.
	for _, date := range []string{from, to} {
		if _, err := energystore.ParseDate(date, a.store.Location()); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if from > to {
		a.writeError(w, r, http.StatusBadRequest, "from must not be after to")
		return
	}

	summaries, err := a.store.DailySummaries(r.Context(), from, to)
	if err != nil {
		a.writeInternal(w, r, "reading daily summaries", err)
		return
	}
	a.respond(w, r, http.StatusOK, map[string]any{"from": from, "to": to, "days": summaries})
}

func (a *api) handleInverterStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	reports := make([]inverter.ConnectivityReport, len(a.probers))
	var group errgroup.Group
	for index, device := range a.probers {
		group.Go(func() error {
			reports[index] = device.TestConnectivity(ctx)
			return nil
		})
	}
	group.Wait()

	online := 0
	for _, report := range reports {
		if report.Online {
			online++
		}
	}
	a.respond(w, r, http.StatusOK, map[string]any{
		"online":    online,
		"total":     len(reports),
		"inverters": reports,
	})
}

// respond encodes value as CBOR when the client asks for it and as
// JSON otherwise.
func (a *api) respond(w http.ResponseWriter, r *http.Request, status int, value any) {
	var err error
	if strings.Contains(r.Header.Get("Accept"), codec.ContentType) {
		w.Header().Set("Content-Type", codec.ContentType)
		w.WriteHeader(status)
		err = codec.NewEncoder(w).Encode(value)
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		err = json.NewEncoder(w).Encode(value)
	}
	if err != nil {
		a.logger.Debug("writing response failed", "error", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	a.respond(w, r, status, map[string]string{"error": message})
}

func (a *api) writeInternal(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Error(what+" failed", "error", err)
	a.writeError(w, r, http.StatusInternalServerError, what+" failed")
}
