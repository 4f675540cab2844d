// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inverter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/solarwatch/lib/clock"
	"github.com/bureau-foundation/solarwatch/lib/netutil"
)

// MaxCallAttempts caps the stale-session retries of one value request.
const MaxCallAttempts = 3

const (
	loginPath     = "/dyn/login.json"
	getValuesPath = "/dyn/getValues.json"

	// staleSessionCode is the top-level "err" the device returns for an
	// expired or unknown sid.
	staleSessionCode = 401

	defaultTimeout = 10 * time.Second
)

// Config holds the parameters for one device.
type Config struct {
	// ID names the device in logs and readings. Defaults to Address.
	ID string

	// Address is a host or IP (https implied) or an https:// base URL.
	Address string

	// DataID is the key under which the device nests its values.
	DataID string

	Password string

	// WattKey and DailyYieldKey are the value identifiers for live
	// power (W) and today's cumulative yield (Wh).
	WattKey       string
	DailyYieldKey string

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration

	// LoginInterval is the minimum spacing between logins. Zero
	// disables pacing.
	LoginInterval time.Duration

	Logger *slog.Logger
	Clock  clock.Clock
}

// State is the session state of a Client.
type State int

const (
	StateNoSession State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a snapshot of a Client's session.
type Session struct {
	DeviceID     string
	Token        string
	CallAttempts int
}

// Client talks to one inverter. It is safe for concurrent use;
// concurrent reads share a single session and at most one login is in
// flight at a time.
type Client struct {
	id            string
	dataID        string
	password      string
	wattKey       string
	dailyYieldKey string

	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	clock   clock.Clock

	// loginMu serializes logins so two reads racing on an empty
	// session produce one login, not two.
	loginMu sync.Mutex

	// mu guards the fields below.
	mu           sync.Mutex
	token        string
	state        State
	callAttempts int
}

// New creates a Client. No network traffic happens until the first
// read.
func New(cfg Config) (*Client, error) {
	base, err := baseURL(cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.DataID == "" {
		return nil, errors.New("inverter: DataID is required")
	}

	id := cfg.ID
	if id == "" {
		id = cfg.Address
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", id)

	deviceClock := cfg.Clock
	if deviceClock == nil {
		deviceClock = clock.Real()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.LoginInterval > 0 {
		limit = rate.Every(cfg.LoginInterval)
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}). //nolint:gosec // devices serve self-signed certificates
		SetLogger(restyLogger{logger: logger})

	return &Client{
		id:            id,
		dataID:        cfg.DataID,
		password:      cfg.Password,
		wattKey:       cfg.WattKey,
		dailyYieldKey: cfg.DailyYieldKey,
		http:          httpClient,
		limiter:       rate.NewLimiter(limit, 1),
		logger:        logger,
		clock:         deviceClock,
	}, nil
}

func baseURL(address string) (string, error) {
	switch {
	case address == "":
		return "", errors.New("inverter: Address is required")
	case strings.HasPrefix(address, "https://"):
		return strings.TrimRight(address, "/"), nil
	case strings.Contains(address, "://"):
		return "", fmt.Errorf("inverter: address %q: only https is supported", address)
	default:
		return "https://" + strings.TrimRight(address, "/"), nil
	}
}

// ID returns the device identifier.
func (c *Client) ID() string { return c.id }

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{DeviceID: c.id, Token: c.token, CallAttempts: c.callAttempts}
}

// Authenticate logs in and stores the session token, replacing any
// existing one. It returns ErrAuthentication when the device answers
// without a session id.
func (c *Client) Authenticate(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	_, err := c.login(ctx)
	return err
}

// login runs the login exchange. Caller holds loginMu.
func (c *Client) login(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("inverter %s: waiting to log in: %w", c.id, err)
	}

	c.mu.Lock()
	c.token = ""
	c.state = StateAuthenticating
	c.mu.Unlock()

	reply, err := c.post(ctx, "login", loginPath, nil, loginRequest{Right: "usr", Pass: c.password})
	if err != nil && !errors.Is(err, ErrResponseParse) {
		c.setToken("")
		return "", err
	}

	var result loginResult
	if err == nil && len(reply.Result) > 0 {
		// A result of the wrong type leaves SID empty, which is the
		// failure reported below.
		_ = json.Unmarshal(reply.Result, &result)
	}
	if result.SID == "" {
		c.setToken("")
		c.logger.Error("login returned no session id", "device_err", reply.Err)
		return "", ErrAuthentication
	}

	c.setToken(result.SID)
	c.logger.Info("session established")
	return result.SID, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if token == "" {
		c.state = StateNoSession
	} else {
		c.state = StateAuthenticated
	}
}

// ensureSession returns the current token, logging in when there is
// none.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if token := c.Session().Token; token != "" {
		return token, nil
	}
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if token := c.Session().Token; token != "" {
		return token, nil
	}
	return c.login(ctx)
}

// invalidate drops token if it is still the current one. A concurrent
// reader may already have replaced it with a fresh session.
func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.state = StateNoSession
	}
}

func (c *Client) recordAttempt(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callAttempts = attempt
}

func (c *Client) resetAttempts() {
	c.recordAttempt(0)
}

// FetchValues requests keys from the device. A stale session is
// re-established and the request retried, up to MaxCallAttempts
// attempts in total; a failed login counts as an attempt. On
// exhaustion it returns ErrStaleSession (or ErrAuthentication when the
// last attempt failed to log in).
func (c *Client) FetchValues(ctx context.Context, keys []string) (Values, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxCallAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Values{}, err
		}

		token, err := c.ensureSession(ctx)
		if errors.Is(err, ErrAuthentication) {
			c.recordAttempt(attempt)
			lastErr = err
			continue
		}
		if err != nil {
			return Values{}, err
		}

		reply, err := c.post(ctx, "getValues", getValuesPath,
			map[string]string{"sid": token},
			getValuesRequest{DestDev: []string{}, Keys: keys})
		if err != nil {
			return Values{}, err
		}

		if reply.Err == staleSessionCode {
			c.invalidate(token)
			c.recordAttempt(attempt)
			c.logger.Info("stale session, requesting a new one", "attempt", attempt)
			lastErr = ErrStaleSession
			continue
		}
		if reply.Err != 0 {
			return Values{}, fmt.Errorf("%w: device error %d", ErrResponseParse, reply.Err)
		}
		return Values{dataID: c.dataID, result: reply.Result}, nil
	}

	c.logger.Error("giving up on value request", "attempts", MaxCallAttempts, "keys", keys, "error", lastErr)
	return Values{}, lastErr
}

// CurrentWatts returns the live AC power in watts.
func (c *Client) CurrentWatts(ctx context.Context) (float64, error) {
	return c.readSingle(ctx, c.wattKey, "current watts")
}

// DailyYield returns today's cumulative yield in watt-hours.
func (c *Client) DailyYield(ctx context.Context) (float64, error) {
	return c.readSingle(ctx, c.dailyYieldKey, "daily yield")
}

func (c *Client) readSingle(ctx context.Context, key, what string) (float64, error) {
	values, err := c.FetchValues(ctx, []string{key})
	if err != nil {
		if recoverable(err) {
			c.logger.Error("unable to read "+what, "key", key, "error", err)
			return 0, nil
		}
		return 0, err
	}

	value, err := values.Float(key)
	if err != nil {
		c.logger.Error("unable to read "+what, "key", key, "error", err)
		return 0, nil
	}
	c.resetAttempts()
	c.logger.Debug("read "+what, "key", key, "value", value)
	return value, nil
}

// MultipleValues reads several keys in one request. Keys whose value
// cannot be decoded are omitted. An exhausted session yields an empty
// map.
func (c *Client) MultipleValues(ctx context.Context, keys []string) (map[string]float64, error) {
	results := make(map[string]float64, len(keys))

	values, err := c.FetchValues(ctx, keys)
	if err != nil {
		if recoverable(err) {
			c.logger.Error("unable to read multiple values", "keys", keys, "error", err)
			return results, nil
		}
		return results, err
	}

	for _, key := range keys {
		value, err := values.Float(key)
		if err != nil {
			c.logger.Debug("omitting value", "key", key, "error", err)
			continue
		}
		results[key] = value
	}
	c.resetAttempts()
	return results, nil
}

// ConnectivityReport is the result of TestConnectivity.
type ConnectivityReport struct {
	Device         string    `json:"device"`
	Online         bool      `json:"online"`
	Error          string    `json:"error,omitempty"`
	ResponseTimeMs *int64    `json:"response_time_ms"`
	LastPing       time.Time `json:"last_ping"`
	CurrentWatts   *float64  `json:"current_watts,omitempty"`
}

// TestConnectivity logs in afresh and reads the live power, timing the
// whole exchange. Failures are reported in the result, never returned.
func (c *Client) TestConnectivity(ctx context.Context) ConnectivityReport {
	start := c.clock.Now()
	report := ConnectivityReport{Device: c.id}

	if err := c.Authenticate(ctx); err != nil {
		report.LastPing = c.clock.Now()
		if errors.Is(err, ErrAuthentication) {
			report.Error = "authentication failed"
		} else {
			report.Error = err.Error()
		}
		return report
	}

	watts, err := c.CurrentWatts(ctx)
	end := c.clock.Now()
	report.LastPing = end
	if err != nil {
		report.Error = err.Error()
		return report
	}

	elapsed := end.Sub(start).Milliseconds()
	report.Online = true
	report.ResponseTimeMs = &elapsed
	report.CurrentWatts = &watts
	return report
}

// post sends a JSON request and decodes the envelope. Transport
// failures and non-2xx statuses with an undecodable body become
// *TransportError; a 2xx body that is not JSON is ErrResponseParse.
func (c *Client) post(ctx context.Context, op, path string, query map[string]string, body any) (envelope, error) {
	request := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetDoNotParseResponse(true)
	if query != nil {
		request.SetQueryParams(query)
	}

	response, err := request.Post(path)
	if err != nil {
		return envelope{}, &TransportError{Device: c.id, Op: op, Err: err}
	}
	rawBody := response.RawBody()
	defer rawBody.Close()

	var reply envelope
	if err := netutil.DecodeResponse(rawBody, &reply); err != nil {
		if response.IsError() {
			return envelope{}, &TransportError{Device: c.id, Op: op, StatusCode: response.StatusCode(), Err: err}
		}
		return envelope{}, fmt.Errorf("%w: %s: %v", ErrResponseParse, op, err)
	}
	return reply, nil
}

// restyLogger routes resty's internal warnings into the client logger.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "resty")
}
