package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
)

// InsertAlerts writes alerts inside tx and sets each alert's ID. Severities
// outside the closed set are rejected before anything is written.
func (*DB) InsertAlerts(ctx context.Context, tx Transaction, alerts []models.Alert) error {
	for i := range alerts {
		if !alerts[i].State.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidSeverity, alerts[i].State)
		}
	}

	const insertSQL = `
		INSERT INTO alerts
			(device_id, state, category, title, description, recommendation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for i := range alerts {
		a := &alerts[i]

		result, err := tx.Exec(ctx, insertSQL,
			a.DeviceID,
			string(a.State),
			a.Category,
			a.Title,
			a.Description,
			a.Recommendation,
			a.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("%w alert: %w", ErrFailedToInsert, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w alert id: %w", ErrFailedToInsert, err)
		}

		a.ID = id
	}

	return nil
}

// LatestAlertTime returns the creation time of the newest alert for
// (deviceID, category). ok is false when there is none.
func (db *DB) LatestAlertTime(ctx context.Context, deviceID int64, category string) (time.Time, bool, error) {
	var at time.Time

	err := db.QueryRowContext(ctx, `
		SELECT created_at
		FROM alerts
		WHERE device_id = ? AND category = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, deviceID, category).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w latest alert: %w", ErrFailedToQuery, err)
	}

	return at.UTC(), true, nil
}

// ListAlerts returns alerts newest first.
func (db *DB) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.DeviceID != 0 {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	if filter.MinSeverity.Valid() {
		var states []string

		for _, s := range models.Severities {
			if s.AtLeast(filter.MinSeverity) {
				states = append(states, "?")
				args = append(args, string(s))
			}
		}

		where = append(where, "state IN ("+strings.Join(states, ", ")+")")
	}

	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, device_id, state, category, title, description, recommendation, created_at FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w alerts: %w", ErrFailedToQuery, err)
	}

	r := &SQLRows{rows}
	defer CloseRows(r)

	var alerts []models.Alert

	for r.Next() {
		var a models.Alert

		if err := r.Scan(&a.ID, &a.DeviceID, &a.State, &a.Category, &a.Title,
			&a.Description, &a.Recommendation, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w alert row: %w", ErrFailedToScan, err)
		}

		a.CreatedAt = a.CreatedAt.UTC()
		alerts = append(alerts, a)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w alerts: %w", ErrFailedToQuery, err)
	}

	return alerts, nil
}
