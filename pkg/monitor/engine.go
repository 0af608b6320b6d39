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

// Package monitor runs monitoring cycles over every active device and
// exposes the engine entry points to the process layer.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mfreeman451/routeradar/pkg/alerts"
	"github.com/mfreeman451/routeradar/pkg/classifier"
	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/device"
	"github.com/mfreeman451/routeradar/pkg/health"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/retention"
)

const (
	defaultWorkers         = 4
	defaultDeviceTimeout   = 5 * time.Minute
	defaultCycleLogLimit   = 50
	defaultAnalyzeLogLimit = 100
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDeviceInactive     = errors.New("device is not active")
	ErrAIDisabled         = errors.New("AI classification is not configured")
	errDevicePanic        = errors.New("panic while processing device")
)

// Options tunes the engine. Zero values take defaults.
type Options struct {
	Workers         int
	DeviceTimeout   time.Duration
	LogLimit        int
	AnalyzeLogLimit int
}

// Dependencies are the collaborators an Engine drives.
type Dependencies struct {
	Store      db.Service
	Client     *device.Client
	Evaluator  *health.Evaluator
	Classifier *classifier.Classifier
	Emitter    *alerts.Emitter
	Sweeper    *retention.Sweeper
	Metrics    *Metrics
}

// Status is the most recent cycle and sweep, nil until each has run.
type Status struct {
	LastCycle *models.CycleResult `json:"last_cycle,omitempty"`
	LastSweep *models.SweepResult `json:"last_sweep,omitempty"`
}

// Engine processes devices independently: one device's failure never
// aborts the cycle for the others.
type Engine struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	status Status
}

func NewEngine(deps Dependencies, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = defaultDeviceTimeout
	}

	if opts.LogLimit <= 0 {
		opts.LogLimit = defaultCycleLogLimit
	}

	if opts.AnalyzeLogLimit <= 0 {
		opts.AnalyzeLogLimit = defaultAnalyzeLogLimit
	}

	if deps.Evaluator == nil {
		deps.Evaluator = health.NewEvaluator()
	}

	if deps.Classifier == nil {
		deps.Classifier = classifier.New(nil, 1)
	}

	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	return &Engine{deps: deps, opts: opts, logger: logger}
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	return e.deps.Metrics
}

// Status returns copies of the last cycle and sweep results.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.status
}

// RunMonitoringCycle polls every active device once. Only a failure to list
// devices is returned as an error; per-device failures are recorded as
// failure alerts and reflected in the counts.
func (e *Engine) RunMonitoringCycle(ctx context.Context) (models.CycleResult, error) {
	result := models.CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	log := e.logger.With("cycle_id", result.CycleID)

	devices, err := e.deps.Store.ListActiveDevices(ctx)
	if err != nil {
		e.deps.Metrics.observeCycle("error", nil)
		log.Error("Failed to list active devices", "error", err)

		return result, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	result.DevicesTotal = len(devices)
	log.Info("Starting monitoring cycle", "devices", len(devices), "workers", e.opts.Workers)

	var (
		okCount    atomic.Int64
		alertCount atomic.Int64
		g          errgroup.Group
	)

	g.SetLimit(e.opts.Workers)

	for i := range devices {
		dev := &devices[i]

		g.Go(func() error {
			n, ok := e.processDevice(ctx, dev, log)

			alertCount.Add(int64(n))

			if ok {
				okCount.Add(1)
			}

			e.deps.Metrics.observeDevice(ok)

			return nil
		})
	}

	_ = g.Wait()

	result.DevicesOK = int(okCount.Load())
	result.AlertsGenerated = int(alertCount.Load())
	result.Duration = time.Since(result.StartedAt)

	e.deps.Metrics.observeCycle("ok", &result)

	e.mu.Lock()
	cycle := result
	e.status.LastCycle = &cycle
	e.mu.Unlock()

	log.Info("Monitoring cycle completed",
		"devices_total", result.DevicesTotal,
		"devices_ok", result.DevicesOK,
		"alerts_generated", result.AlertsGenerated,
		"duration", result.Duration)

	return result, nil
}

// processDevice runs one device's unit of work and reports how many alerts
// were persisted and whether the normal path committed.
func (e *Engine) processDevice(ctx context.Context, dev *models.Device, cycleLog *slog.Logger) (int, bool) {
	log := cycleLog.With("device_id", dev.ID, "device", dev.Name, "address", dev.Address)

	devCtx, cancel := context.WithTimeout(ctx, e.opts.DeviceTimeout)
	defer cancel()

	candidates, err := e.inspect(devCtx, dev, e.opts.LogLimit, log)
	if err == nil {
		n, emitErr := e.deps.Emitter.Emit(devCtx, dev, candidates)
		if emitErr == nil {
			log.Debug("Device processed", "alerts", n)

			return n, true
		}

		log.Error("Failed to persist device alerts", "error", emitErr)

		err = emitErr
	}

	log.Warn("Device unit of work failed", "error", err)

	// the device budget may already be spent; the failure alert uses the cycle context
	if ferr := e.deps.Emitter.EmitFailure(ctx, dev, err); ferr != nil {
		log.Error("Failed to record failure alert", "error", ferr)

		return 0, false
	}

	return 1, false
}

// inspect connects, fetches, evaluates and classifies while the session is
// open. The session is closed before it returns, panics included.
func (e *Engine) inspect(ctx context.Context, dev *models.Device, logLimit int, log *slog.Logger) (candidates []models.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic while processing device", "panic", r, "stack", string(debug.Stack()))

			candidates, err = nil, fmt.Errorf("%w: %v", errDevicePanic, r)
		}
	}()

	err = e.deps.Client.WithSession(ctx, dev, func(ctx context.Context, s device.Session) error {
		snapshot, err := e.deps.Client.FetchHealth(ctx, s)
		if err != nil {
			return err
		}

		ifaces, err := e.deps.Client.FetchInterfaces(ctx, s)
		if err != nil {
			return err
		}

		logs, err := e.deps.Client.FetchLogs(ctx, s, logLimit)
		if err != nil {
			return err
		}

		res := e.deps.Evaluator.Evaluate(dev.Name, snapshot, ifaces)
		for _, anomaly := range res.Anomalies {
			log.Warn("Health reading anomaly", "detail", anomaly)
		}

		candidates = append(res.Candidates, e.deps.Classifier.Classify(ctx, dev.Name, logs)...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return candidates, nil
}

// RunRetentionSweep deletes alerts older than days and returns how many
// were removed.
func (e *Engine) RunRetentionSweep(ctx context.Context, days int) (int, error) {
	res, err := e.deps.Sweeper.Sweep(ctx, days)
	if err != nil {
		e.logger.Error("Retention sweep failed", "retention_days", days, "error", err)

		return 0, err
	}

	e.deps.Metrics.observeSweep(res.Deleted)

	e.mu.Lock()
	e.status.LastSweep = &res
	e.mu.Unlock()

	return res.Deleted, nil
}

// AnalyzeDeviceLogs runs the AI classifier alone over one device's recent
// logs and persists the single resulting alert.
func (e *Engine) AnalyzeDeviceLogs(ctx context.Context, deviceID int64) (models.Candidate, error) {
	if !e.deps.Classifier.AIEnabled() {
		return models.Candidate{}, ErrAIDisabled
	}

	dev, err := e.deps.Store.GetDevice(ctx, deviceID)
	if err != nil {
		return models.Candidate{}, err
	}

	if !dev.Active {
		return models.Candidate{}, fmt.Errorf("%w: %d", ErrDeviceInactive, deviceID)
	}

	log := e.logger.With("device_id", dev.ID, "device", dev.Name, "address", dev.Address)

	var logs []models.LogEntry

	err = e.deps.Client.WithSession(ctx, dev, func(ctx context.Context, s device.Session) error {
		var err error

		logs, err = e.deps.Client.FetchLogs(ctx, s, e.opts.AnalyzeLogLimit)

		return err
	})
	if err != nil {
		log.Error("Failed to fetch logs for analysis", "error", err)

		return models.Candidate{}, err
	}

	candidate, ok := e.deps.Classifier.AICandidate(ctx, dev.Name, logs)
	if !ok {
		log.Info("No logs to analyze")

		return models.Candidate{}, nil
	}

	if _, err := e.deps.Emitter.Emit(ctx, dev, []models.Candidate{candidate}); err != nil {
		return models.Candidate{}, err
	}

	log.Info("AI log analysis stored", "severity", candidate.Severity)

	return candidate, nil
}
