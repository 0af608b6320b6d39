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

// Package alerts turns alert candidates into persisted alerts and fans the
// persisted ones out to notifiers.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/models"
)

const (
	failureTitlePrefix = "Monitoring error: "
	failurePrefix      = "could not connect to device: "
)

// Options configures an Emitter.
type Options struct {
	// MinSeverity is the lowest severity handed to notifiers. Invalid means Severe.
	MinSeverity models.Severity
	// SuppressWindow drops a candidate whose (device, category) already has an
	// alert younger than the window. Zero keeps every candidate.
	SuppressWindow time.Duration
	Notifiers      []Notifier
	// OnCommit, if set, sees every batch right after it is committed.
	OnCommit func(device *models.Device, alerts []models.Alert)
}

// Emitter persists one device's alerts and its last-checked time as a
// single unit of work.
type Emitter struct {
	store          db.Service
	notifiers      []Notifier
	minSeverity    models.Severity
	suppressWindow time.Duration
	onCommit       func(*models.Device, []models.Alert)
	logger         *slog.Logger
	now            func() time.Time
}

func NewEmitter(store db.Service, opts Options, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}

	minSeverity := opts.MinSeverity
	if !minSeverity.Valid() {
		minSeverity = models.SeveritySevere
	}

	return &Emitter{
		store:          store,
		notifiers:      opts.Notifiers,
		minSeverity:    minSeverity,
		suppressWindow: opts.SuppressWindow,
		onCommit:       opts.OnCommit,
		logger:         logger,
		now:            time.Now,
	}
}

// Emit persists candidates for device together with its last-checked update
// and returns how many alerts were written. Nothing is written on error.
func (e *Emitter) Emit(ctx context.Context, device *models.Device, candidates []models.Candidate) (int, error) {
	now := e.now().UTC()

	kept := e.suppress(ctx, device, candidates, now)

	alerts := make([]models.Alert, 0, len(kept))
	for _, c := range kept {
		alerts = append(alerts, models.Alert{
			DeviceID:       device.ID,
			State:          c.Severity,
			Category:       c.Category,
			Title:          c.Title,
			Description:    c.Description,
			Recommendation: c.Recommendation,
			CreatedAt:      now,
		})
	}

	if err := e.commit(ctx, device, alerts, now); err != nil {
		return 0, err
	}

	e.notify(ctx, device, alerts)

	return len(alerts), nil
}

// EmitFailure records the single Critical alert for a device whose unit of
// work failed, along with its last-checked update. Failure alerts are never
// suppressed.
func (e *Emitter) EmitFailure(ctx context.Context, device *models.Device, cause error) error {
	now := e.now().UTC()

	alerts := []models.Alert{FailureAlert(device, cause, now)}

	if err := e.commit(ctx, device, alerts, now); err != nil {
		return err
	}

	e.notify(ctx, device, alerts)

	return nil
}

// FailureAlert builds the Critical monitoring alert for cause.
func FailureAlert(device *models.Device, cause error, at time.Time) models.Alert {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	return models.Alert{
		DeviceID:    device.ID,
		State:       models.SeverityCritical,
		Category:    models.CategoryMonitoring,
		Title:       failureTitlePrefix + device.Name,
		Description: failurePrefix + msg,
		CreatedAt:   at,
	}
}

func (e *Emitter) commit(ctx context.Context, device *models.Device, alerts []models.Alert, now time.Time) (err error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			db.Rollback(tx)
		}
	}()

	if len(alerts) > 0 {
		if err = e.store.InsertAlerts(ctx, tx, alerts); err != nil {
			return err
		}
	}

	if err = e.store.TouchDevice(ctx, tx, device.ID, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit alerts for device %d: %w", db.ErrDatabaseError, device.ID, err)
	}

	if e.onCommit != nil {
		e.onCommit(device, alerts)
	}

	return nil
}

func (e *Emitter) suppress(ctx context.Context, device *models.Device, candidates []models.Candidate, now time.Time) []models.Candidate {
	if e.suppressWindow <= 0 {
		return candidates
	}

	kept := make([]models.Candidate, 0, len(candidates))
	latest := make(map[string]time.Time)

	for _, c := range candidates {
		at, seen := latest[c.Category]
		if !seen {
			found, ok, err := e.store.LatestAlertTime(ctx, device.ID, c.Category)
			if err != nil {
				e.logger.Warn("could not check recent alerts, keeping candidate",
					"device_id", device.ID, "category", c.Category, "error", err)

				kept = append(kept, c)

				continue
			}

			if ok {
				at = found
			}

			latest[c.Category] = at
		}

		if !at.IsZero() && now.Sub(at) < e.suppressWindow {
			e.logger.Debug("suppressed repeat alert",
				"device_id", device.ID, "category", c.Category, "title", c.Title)

			continue
		}

		kept = append(kept, c)
	}

	return kept
}

func (e *Emitter) notify(ctx context.Context, device *models.Device, alerts []models.Alert) {
	if len(e.notifiers) == 0 {
		return
	}

	for i := range alerts {
		if !alerts[i].State.AtLeast(e.minSeverity) {
			continue
		}

		n := NewNotification(device, &alerts[i])

		for _, notifier := range e.notifiers {
			if err := notifier.Notify(ctx, n); err != nil {
				e.logger.Warn("failed to deliver alert",
					"notifier", notifier.Name(),
					"device_id", device.ID,
					"alert_id", alerts[i].ID,
					"error", err)
			}
		}
	}
}
