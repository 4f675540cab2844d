// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// ConfigEnvVar names the environment variable consulted by [Load].
const ConfigEnvVar = "SOLARWATCH_CONFIG"

// Config is the complete collector configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// PollIntervalSeconds is the collection interval. Default: 30.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// RetentionDays bounds how long raw readings are kept. Hourly
	// aggregates (30 days) and daily summaries (365 days) have fixed
	// windows. Default: 7.
	RetentionDays int `yaml:"retention_days"`

	// Timezone is an IANA zone name, or "Local", used for date and hour
	// buckets. Default: Local.
	Timezone string `yaml:"timezone"`

	Database DatabaseConfig `yaml:"database"`

	// DeviceDefaults fills any field an inverter entry leaves empty.
	DeviceDefaults DeviceConfig `yaml:"device_defaults"`

	Inverters []InverterConfig `yaml:"inverters"`

	API APIConfig `yaml:"api"`

	Influx InfluxConfig `yaml:"influx"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	PollIntervalSeconds int             `yaml:"poll_interval_seconds,omitempty"`
	RetentionDays       int             `yaml:"retention_days,omitempty"`
	Timezone            string          `yaml:"timezone,omitempty"`
	Database            *DatabaseConfig `yaml:"database,omitempty"`
	API                 *APIConfig      `yaml:"api,omitempty"`
	Influx              *InfluxConfig   `yaml:"influx,omitempty"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// DeviceConfig holds the protocol settings shared by inverters of one
// vendor. The keys are the vendor's opaque value identifiers.
type DeviceConfig struct {
	Password             string `yaml:"password"`
	WattKey              string `yaml:"watt_key"`
	DailyYieldKey        string `yaml:"daily_yield_key"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	LoginIntervalSeconds int    `yaml:"login_interval_seconds"`
}

// InverterConfig describes one polled device.
type InverterConfig struct {
	// Name identifies the device in logs, readings, and the API.
	Name string `yaml:"name"`

	// Address is a host or IP (https implied) or an https:// base URL.
	Address string `yaml:"address"`

	// DataID is the device-specific key under which values are nested
	// in getValues responses.
	DataID string `yaml:"data_id"`

	DeviceConfig `yaml:",inline"`
}

// Timeout returns the per-request timeout as a duration.
func (i InverterConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// LoginInterval returns the minimum spacing between logins.
func (i InverterConfig) LoginInterval() time.Duration {
	return time.Duration(i.LoginIntervalSeconds) * time.Second
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	// Listen is the listen address. Empty disables the API.
	Listen string `yaml:"listen"`

	// AllowedOrigins is the CORS origin allow-list.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// InfluxConfig configures the optional InfluxDB mirror. An empty URL
// disables it.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether the mirror is configured.
func (i InfluxConfig) Enabled() bool { return i.URL != "" }

// Default returns the configuration every file is decoded over.
func Default() *Config {
	return &Config{
		Environment:         Development,
		PollIntervalSeconds: 30,
		RetentionDays:       7,
		Timezone:            "Local",
		Database: DatabaseConfig{
			Path:     "./data/solar.db",
			PoolSize: 4,
		},
		DeviceDefaults: DeviceConfig{
			TimeoutSeconds: 10,
		},
		API: APIConfig{
			Listen:         ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}

// PollInterval returns the collection interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return location, nil
}

// LoadEnvFiles loads .env files into the process environment. Missing
// files are skipped; variables already present in the environment win.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: loading env file %s: %w", path, err)
		}
	}
	return nil
}

// Load loads configuration from the file named by SOLARWATCH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your solarwatch.yaml, or use --config", ConfigEnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. The result is not validated;
// call Validate before use.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration bytes. ext selects the format: ".json"
// and ".jsonc" are treated as JSON with comments, anything else as
// YAML.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas
		// are gone, so one decoder and one set of tags serve both.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	cfg.applyDeviceDefaults()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.PollIntervalSeconds > 0 {
		c.PollIntervalSeconds = overrides.PollIntervalSeconds
	}
	if overrides.RetentionDays > 0 {
		c.RetentionDays = overrides.RetentionDays
	}
	if overrides.Timezone != "" {
		c.Timezone = overrides.Timezone
	}
	if overrides.Database != nil {
		if overrides.Database.Path != "" {
			c.Database.Path = overrides.Database.Path
		}
		if overrides.Database.PoolSize > 0 {
			c.Database.PoolSize = overrides.Database.PoolSize
		}
	}
	if overrides.API != nil {
		if overrides.API.Listen != "" {
			c.API.Listen = overrides.API.Listen
		}
		if overrides.API.AllowedOrigins != nil {
			c.API.AllowedOrigins = overrides.API.AllowedOrigins
		}
	}
	if overrides.Influx != nil && overrides.Influx.URL != "" {
		c.Influx = *overrides.Influx
	}
}

// applyEnvOverrides honours the variable names of the original
// .env.local layout. Two positional inverters (ONE, TWO) are appended
// when their IP is set and the file declares no inverter of that name.
func (c *Config) applyEnvOverrides() error {
	intVars := []struct {
		name   string
		target *int
	}{
		{"POLL_INTERVAL_SECONDS", &c.PollIntervalSeconds},
		{"DATA_RETENTION_DAYS", &c.RetentionDays},
	}
	for _, variable := range intVars {
		raw := os.Getenv(variable.name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: %s=%q: not an integer", variable.name, raw)
		}
		*variable.target = value
	}

	if value := os.Getenv("DB_PATH"); value != "" {
		c.Database.Path = value
	}
	if value := os.Getenv("PORT"); value != "" {
		c.API.Listen = ":" + value
	}
	if value := os.Getenv("INVERTER_PASS"); value != "" {
		c.DeviceDefaults.Password = value
	}
	if value := os.Getenv("INVERTER_LIVE_WATT_DATA_KEY"); value != "" {
		c.DeviceDefaults.WattKey = value
	}
	if value := os.Getenv("INVERTER_DAILY_YIELD_KEY"); value != "" {
		c.DeviceDefaults.DailyYieldKey = value
	}

	for _, position := range []string{"ONE", "TWO"} {
		address := os.Getenv("INVERTER_" + position + "_IP")
		if address == "" {
			continue
		}
		name := "inverter-" + strings.ToLower(position)
		if c.findInverter(name) != nil {
			continue
		}
		c.Inverters = append(c.Inverters, InverterConfig{
			Name:    name,
			Address: address,
			DataID:  os.Getenv("INVERTER_" + position + "_DATA_ID"),
		})
	}
	return nil
}

func (c *Config) findInverter(name string) *InverterConfig {
	for index := range c.Inverters {
		if c.Inverters[index].Name == name {
			return &c.Inverters[index]
		}
	}
	return nil
}

func (c *Config) expandVariables() {
	c.Timezone = expandVars(c.Timezone)
	c.Database.Path = expandVars(c.Database.Path)
	c.DeviceDefaults.Password = expandVars(c.DeviceDefaults.Password)
	c.DeviceDefaults.WattKey = expandVars(c.DeviceDefaults.WattKey)
	c.DeviceDefaults.DailyYieldKey = expandVars(c.DeviceDefaults.DailyYieldKey)
	for index := range c.Inverters {
		inverter := &c.Inverters[index]
		inverter.Address = expandVars(inverter.Address)
		inverter.DataID = expandVars(inverter.DataID)
		inverter.Password = expandVars(inverter.Password)
		inverter.WattKey = expandVars(inverter.WattKey)
		inverter.DailyYieldKey = expandVars(inverter.DailyYieldKey)
	}
	c.API.Listen = expandVars(c.API.Listen)
	c.Influx.URL = expandVars(c.Influx.URL)
	c.Influx.Token = expandVars(c.Influx.Token)
	c.Influx.Org = expandVars(c.Influx.Org)
	c.Influx.Bucket = expandVars(c.Influx.Bucket)
}

func (c *Config) applyDeviceDefaults() {
	for index := range c.Inverters {
		inverter := &c.Inverters[index]
		if inverter.Password == "" {
			inverter.Password = c.DeviceDefaults.Password
		}
		if inverter.WattKey == "" {
			inverter.WattKey = c.DeviceDefaults.WattKey
		}
		if inverter.DailyYieldKey == "" {
			inverter.DailyYieldKey = c.DeviceDefaults.DailyYieldKey
		}
		if inverter.TimeoutSeconds == 0 {
			inverter.TimeoutSeconds = c.DeviceDefaults.TimeoutSeconds
		}
		if inverter.LoginIntervalSeconds == 0 {
			inverter.LoginIntervalSeconds = c.DeviceDefaults.LoginIntervalSeconds
		}
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
// An empty variable takes the default.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}

	if len(c.Inverters) == 0 {
		errs = append(errs, fmt.Errorf("at least one inverter is required"))
	}
	seen := make(map[string]bool)
	for index, inverter := range c.Inverters {
		prefix := fmt.Sprintf("inverters[%d]", index)
		if inverter.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if seen[inverter.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", prefix, inverter.Name))
		}
		seen[inverter.Name] = true
		if inverter.Address == "" {
			errs = append(errs, fmt.Errorf("%s.address is required", prefix))
		}
		if inverter.DataID == "" {
			errs = append(errs, fmt.Errorf("%s.data_id is required", prefix))
		}
		if inverter.Password == "" {
			errs = append(errs, fmt.Errorf("%s.password is required (or set device_defaults.password)", prefix))
		}
		if inverter.WattKey == "" {
			errs = append(errs, fmt.Errorf("%s.watt_key is required", prefix))
		}
		if inverter.DailyYieldKey == "" {
			errs = append(errs, fmt.Errorf("%s.daily_yield_key is required", prefix))
		}
		if inverter.TimeoutSeconds <= 0 {
			errs = append(errs, fmt.Errorf("%s.timeout_seconds must be positive", prefix))
		}
		if inverter.LoginIntervalSeconds < 0 {
			errs = append(errs, fmt.Errorf("%s.login_interval_seconds must not be negative", prefix))
		}
	}

	if c.Influx.Enabled() && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, fmt.Errorf("influx.org and influx.bucket are required when influx.url is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the database directory if it does not exist.
func (c *Config) EnsurePaths() error {
	dir := filepath.Dir(c.Database.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", dir, err)
	}
	return nil
}
