// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/solarwatch/lib/clock"
	"github.com/bureau-foundation/solarwatch/lib/collector"
	"github.com/bureau-foundation/solarwatch/lib/config"
	"github.com/bureau-foundation/solarwatch/lib/energystore"
	"github.com/bureau-foundation/solarwatch/lib/influxsink"
	"github.com/bureau-foundation/solarwatch/lib/inverter"
	"github.com/bureau-foundation/solarwatch/lib/process"
	"github.com/bureau-foundation/solarwatch/lib/version"
)

// shutdownTimeout bounds the wait for the in-flight cycle and for
// open HTTP requests once a signal arrives.
const shutdownTimeout = 30 * time.Second

// usageError marks flag errors so they exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }
func (usageError) ExitCode() int   { return 2 }

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		envFiles    []string
		logLevel    string
		logFormat   string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("solarwatch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the config file (default: $"+config.ConfigEnvVar+")")
	flagSet.StringArrayVar(&envFiles, "env-file", []string{".env.local"}, "dotenv file to load before parsing the config (repeatable)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "auto", "log format: auto, json, text")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageError{err}
	}

	if showVersion {
		version.Fprint(os.Stdout, "solarwatch")
		return nil
	}

	logger, err := newLogger(os.Stderr, logLevel, logFormat)
	if err != nil {
		return usageError{err}
	}

	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires the components from cfg and runs until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	location, err := cfg.Location()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	realClock := clock.Real()

	store, err := energystore.OpenStore(energystore.StoreConfig{
		Path:     cfg.Database.Path,
		PoolSize: cfg.Database.PoolSize,
		Clock:    realClock,
		Logger:   logger,
		Location: location,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	devices := make([]collector.Device, 0, len(cfg.Inverters))
	probers := make([]prober, 0, len(cfg.Inverters))
	for _, inverterConfig := range cfg.Inverters {
		client, err := inverter.New(inverter.Config{
			ID:            inverterConfig.Name,
			Address:       inverterConfig.Address,
			DataID:        inverterConfig.DataID,
			Password:      inverterConfig.Password,
			WattKey:       inverterConfig.WattKey,
			DailyYieldKey: inverterConfig.DailyYieldKey,
			Timeout:       inverterConfig.Timeout(),
			LoginInterval: inverterConfig.LoginInterval(),
			Logger:        logger,
			Clock:         realClock,
		})
		if err != nil {
			return err
		}
		devices = append(devices, client)
		probers = append(probers, client)
	}

	collectorConfig := collector.Config{
		Devices:       devices,
		Store:         store,
		Interval:      cfg.PollInterval(),
		RetentionDays: cfg.RetentionDays,
		Location:      store.Location(),
		Clock:         realClock,
		Logger:        logger,
	}
	if cfg.Influx.Enabled() {
		sink, err := influxsink.New(influxsink.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		collectorConfig.Sink = sink
	}

	scheduler, err := collector.New(collectorConfig)
	if err != nil {
		return err
	}

	// The collector gets its own context: a signal should let the
	// in-flight cycle finish writing, not abort it mid-way.
	collectorCtx, cancelCollector := context.WithCancel(context.Background())
	defer cancelCollector()
	scheduler.Start(collectorCtx)

	var server *http.Server
	serverDone := make(chan error, 1)
	if cfg.API.Listen != "" {
		service := &api{
			store:     store,
			live:      scheduler,
			probers:   probers,
			clock:     realClock,
			logger:    logger,
			startedAt: realClock.Now(),
		}
		listener, err := net.Listen("tcp", cfg.API.Listen)
		if err != nil {
			scheduler.Stop()
			<-scheduler.Done()
			return fmt.Errorf("listening on %s: %w", cfg.API.Listen, err)
		}
		server = &http.Server{
			Handler:           service.handler(cfg.API.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			serverDone <- server.Serve(listener)
		}()
		logger.Info("status API listening", "address", listener.Addr().String())
	}

	logger.Info("solarwatch running",
		"environment", cfg.Environment,
		"inverters", len(devices),
		"poll_interval", cfg.PollInterval(),
		"retention_days", cfg.RetentionDays,
		"database", cfg.Database.Path,
		"influx", cfg.Influx.Enabled(),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverDone:
		logger.Error("status API stopped", "error", err)
	}

	scheduler.Stop()
	select {
	case <-scheduler.Done():
	case <-time.After(shutdownTimeout):
		logger.Warn("collection cycle did not finish before the shutdown timeout; cancelling")
		cancelCollector()
		<-scheduler.Done()
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status API shutdown", "error", err)
		}
	}

	logger.Info("solarwatch stopped")
	return nil
}
