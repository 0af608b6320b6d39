/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package device pkg/device/client.go
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/retry"
	"golang.org/x/time/rate"
)

const (
	defaultAttempts    = 3
	defaultDelay       = 2 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultLogLimit    = 100
)

// Connect attempt outcomes reported to Options.AttemptHook.
const (
	AttemptSuccess   = "success"
	AttemptTransient = "transient"
	AttemptRejected  = "rejected"
)

// Options tunes the client. Zero Attempts, DialTimeout and LogLimit take
// the defaults; a negative Delay does too.
type Options struct {
	Attempts    int
	Delay       time.Duration
	DialTimeout time.Duration
	LogLimit    int
	// DialRate caps new dials per second across all callers. Zero disables it.
	DialRate  float64
	DialBurst int
	// AttemptHook, if set, observes the outcome of every connect attempt.
	AttemptHook func(outcome string)
}

// Client opens sessions to devices and reads telemetry from them.
type Client struct {
	creds   CredentialSource
	dialer  Dialer
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a device client.
func NewClient(creds CredentialSource, dialer Dialer, opts Options, logger *slog.Logger) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}

	if opts.Delay < 0 {
		opts.Delay = defaultDelay
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	if opts.LogLimit <= 0 {
		opts.LogLimit = defaultLogLimit
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		creds:  creds,
		dialer: dialer,
		opts:   opts,
		logger: logger,
	}

	if opts.DialRate > 0 {
		burst := opts.DialBurst
		if burst <= 0 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(opts.DialRate), burst)
	}

	return c
}

// LogLimit returns the default number of log lines fetched per poll.
func (c *Client) LogLimit() int {
	return c.opts.LogLimit
}

func deviceAttrs(device *models.Device) []any {
	return []any{"device_id", device.ID, "device", device.Name, "address", device.Endpoint()}
}

// Connect decrypts the device credentials and opens a session. Transient
// failures are retried with a fixed delay; rejections fail immediately.
func (c *Client) Connect(ctx context.Context, device *models.Device) (Session, error) {
	log := c.logger.With(deviceAttrs(device)...)

	username, password, err := c.creds.DecryptCredentials(device)
	if err != nil {
		log.Error("Failed to decrypt device credentials", "error", err)
		return nil, err
	}

	var (
		session  Session
		attempts int
	)

	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: c.opts.Attempts,
		Delay:       c.opts.Delay,
		Retryable:   IsTransient,
		OnAttempt: func(attempt int, err error) {
			log.Warn("Connect attempt failed",
				"attempt", attempt,
				"max_attempts", c.opts.Attempts,
				"transient", IsTransient(err),
				"error", err)
		},
	}, func(ctx context.Context) error {
		attempts++

		s, err := c.dial(ctx, device.Endpoint(), username, password)
		if err != nil {
			c.observe(err)
			return err
		}

		c.observe(nil)
		session = s

		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Last
		}

		// a context already done before the first attempt comes back bare
		err = classify(err)

		connErr := newConnectError(device, attempts, err)
		log.Error("Failed to connect to device", "attempts", attempts, "error", connErr)

		return nil, connErr
	}

	log.Info("Connected to device", "attempt", attempts)

	return session, nil
}

func (c *Client) dial(ctx context.Context, endpoint, username, password string) (Session, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: dial limiter: %w", ErrTransient, err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	s, err := c.dialer.Dial(dialCtx, endpoint, username, password)
	if err != nil {
		return nil, classify(err)
	}

	return s, nil
}

func (c *Client) observe(err error) {
	if c.opts.AttemptHook == nil {
		return
	}

	switch {
	case err == nil:
		c.opts.AttemptHook(AttemptSuccess)
	case IsTransient(err):
		c.opts.AttemptHook(AttemptTransient)
	default:
		c.opts.AttemptHook(AttemptRejected)
	}
}

// FetchHealth reads the system resource table.
func (*Client) FetchHealth(ctx context.Context, session Session) (*models.HealthSnapshot, error) {
	snapshot, err := session.SystemResource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch system resource: %w", err)
	}

	if snapshot.MemoryTotal >= snapshot.MemoryFree {
		snapshot.MemoryUsed = snapshot.MemoryTotal - snapshot.MemoryFree
	}

	if snapshot.SampledAt.IsZero() {
		snapshot.SampledAt = time.Now().UTC()
	}

	return snapshot, nil
}

// FetchLogs reads at most limit recent log lines. A non-positive limit uses
// the configured default.
func (c *Client) FetchLogs(ctx context.Context, session Session, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = c.opts.LogLimit
	}

	logs, err := session.Logs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}

	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}

	return logs, nil
}

// FetchInterfaces reads the interface table.
func (*Client) FetchInterfaces(ctx context.Context, session Session) ([]models.InterfaceState, error) {
	ifaces, err := session.Interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch interfaces: %w", err)
	}

	return ifaces, nil
}

// Close ends a session, logging any error.
func (c *Client) Close(device *models.Device, session Session) {
	if session == nil {
		return
	}

	if err := session.Close(); err != nil {
		c.logger.Warn("Failed to close device session", append(deviceAttrs(device), "error", err)...)
	}
}

// WithSession connects to device, runs fn and always closes the session
// afterwards, whatever fn returns.
func (c *Client) WithSession(ctx context.Context, device *models.Device, fn func(ctx context.Context, s Session) error) error {
	session, err := c.Connect(ctx, device)
	if err != nil {
		return err
	}
	defer c.Close(device, session)

	return fn(ctx, session)
}

// TestConnection dials once with plaintext credentials and reads the system
// resource table to prove the session works. It does not retry.
func (c *Client) TestConnection(ctx context.Context, endpoint, username, password string) error {
	s, err := c.dial(ctx, endpoint, username, password)
	if err != nil {
		return err
	}

	defer func() {
		if err := s.Close(); err != nil {
			c.logger.Warn("Failed to close test session", "address", endpoint, "error", err)
		}
	}()

	if _, err := s.SystemResource(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	return nil
}
