package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepDeletesOnlyExpiredAlerts(t *testing.T) {
	ctx := context.Background()

	store, err := db.New(ctx, filepath.Join(t.TempDir(), "retention.db"), quietLogger())
	require.NoError(t, err)

	defer func() { _ = store.Close() }()

	deviceID, err := store.CreateDevice(ctx, &models.Device{
		Name: "edge-1", Address: "10.0.0.1",
		EncryptedUsername: "u", EncryptedPassword: "p", Active: true,
	})
	require.NoError(t, err)

	var alerts []models.Alert
	for _, days := range []int{10, 31, 40} {
		alerts = append(alerts, models.Alert{
			DeviceID:  deviceID,
			State:     models.SeverityMinor,
			Category:  models.CategoryLog,
			Title:     "aged",
			CreatedAt: now.Add(-time.Duration(days) * 24 * time.Hour),
		})
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.InsertAlerts(ctx, tx, alerts))
	require.NoError(t, tx.Commit())

	s := NewSweeper(store, quietLogger())
	s.now = func() time.Time { return now }

	res, err := s.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.True(t, now.Add(-30*24*time.Hour).Equal(res.Cutoff))

	res, err = s.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)

	left, err := store.ListAlerts(ctx, db.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.True(t, alerts[0].CreatedAt.Equal(left[0].CreatedAt))

	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

type storeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f storeFunc) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func TestSweepErrors(t *testing.T) {
	errLocked := errors.New("database is locked")

	tests := []struct {
		name    string
		days    int
		store   storeFunc
		wantErr error
	}{
		{name: "zero_days", days: 0, wantErr: ErrInvalidRetention},
		{name: "negative_days", days: -3, wantErr: ErrInvalidRetention},
		{
			name: "storage_failure",
			days: 30,
			store: func(context.Context, time.Time) (int64, error) {
				return 0, errLocked
			},
			wantErr: errLocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a nil store is never reached for invalid retention
			s := NewSweeper(tt.store, quietLogger())

			_, err := s.Sweep(context.Background(), tt.days)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
