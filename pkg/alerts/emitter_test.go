package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	fixedNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errStorage = errors.New("disk I/O error")
)

func testDevice() *models.Device {
	return &models.Device{ID: 7, Name: "edge-1", Address: "10.0.0.1", Active: true}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEmitter(store db.Service, opts Options) *Emitter {
	e := NewEmitter(store, opts, quietLogger())
	e.now = func() time.Time { return fixedNow }

	return e
}

func TestEmitCommitsAlertsAndTouchTogether(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)
	tx := db.NewMockTransaction(ctrl)
	notifier := NewMockNotifier(ctrl)
	ctx := context.Background()

	candidates := []models.Candidate{
		{Category: models.CategoryCPU, Severity: models.SeverityCritical, Title: "High CPU usage on edge-1"},
		{Category: models.CategoryLog, Severity: models.SeverityNotice, Title: "Log warning on edge-1"},
	}

	gomock.InOrder(
		store.EXPECT().Begin(ctx).Return(tx, nil),
		store.EXPECT().InsertAlerts(ctx, tx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ db.Transaction, alerts []models.Alert) error {
				require.Len(t, alerts, 2)

				for i := range alerts {
					assert.Equal(t, int64(7), alerts[i].DeviceID)
					assert.True(t, fixedNow.Equal(alerts[i].CreatedAt))
					alerts[i].ID = int64(i + 1)
				}

				return nil
			}),
		store.EXPECT().TouchDevice(ctx, tx, int64(7), fixedNow).Return(nil),
		tx.EXPECT().Commit().Return(nil),
	)

	// only the Critical alert clears the default Severe threshold
	notifier.EXPECT().Notify(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, n *Notification) error {
			assert.Equal(t, int64(1), n.AlertID)
			assert.Equal(t, models.SeverityCritical, n.Severity)
			assert.Equal(t, "edge-1", n.Device)

			return nil
		})

	e := newTestEmitter(store, Options{Notifiers: []Notifier{notifier}})

	n, err := e.Emit(ctx, testDevice(), candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEmitWithoutCandidatesStillTouchesDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)
	tx := db.NewMockTransaction(ctrl)
	ctx := context.Background()

	store.EXPECT().Begin(ctx).Return(tx, nil)
	store.EXPECT().TouchDevice(ctx, tx, int64(7), fixedNow).Return(nil)
	tx.EXPECT().Commit().Return(nil)

	n, err := newTestEmitter(store, Options{}).Emit(ctx, testDevice(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmitRollsBackOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		expect func(store *db.MockService, tx *db.MockTransaction)
		wantIs error
	}{
		{
			name: "insert_fails",
			expect: func(store *db.MockService, tx *db.MockTransaction) {
				store.EXPECT().InsertAlerts(gomock.Any(), tx, gomock.Any()).Return(errStorage)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantIs: errStorage,
		},
		{
			name: "touch_fails",
			expect: func(store *db.MockService, tx *db.MockTransaction) {
				store.EXPECT().InsertAlerts(gomock.Any(), tx, gomock.Any()).Return(nil)
				store.EXPECT().TouchDevice(gomock.Any(), tx, int64(7), fixedNow).Return(db.ErrDeviceNotFound)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantIs: db.ErrDeviceNotFound,
		},
		{
			name: "commit_fails",
			expect: func(store *db.MockService, tx *db.MockTransaction) {
				store.EXPECT().InsertAlerts(gomock.Any(), tx, gomock.Any()).Return(nil)
				store.EXPECT().TouchDevice(gomock.Any(), tx, int64(7), fixedNow).Return(nil)
				tx.EXPECT().Commit().Return(errStorage)
				tx.EXPECT().Rollback().Return(nil)
			},
			wantIs: db.ErrDatabaseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := db.NewMockService(ctrl)
			tx := db.NewMockTransaction(ctrl)
			notifier := NewMockNotifier(ctrl)

			store.EXPECT().Begin(gomock.Any()).Return(tx, nil)
			tt.expect(store, tx)

			// no Notify expectation: nothing is delivered for a rolled back batch
			e := newTestEmitter(store, Options{Notifiers: []Notifier{notifier}})

			n, err := e.Emit(context.Background(), testDevice(), []models.Candidate{
				{Category: models.CategoryCPU, Severity: models.SeverityCritical, Title: "cpu"},
			})
			require.ErrorIs(t, err, tt.wantIs)
			assert.Zero(t, n)
		})
	}
}

func TestEmitBeginFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)

	store.EXPECT().Begin(gomock.Any()).Return(nil, db.ErrFailedToBeginTx)

	_, err := newTestEmitter(store, Options{}).Emit(context.Background(), testDevice(), nil)
	require.ErrorIs(t, err, db.ErrFailedToBeginTx)
}

func TestEmitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)
	tx := db.NewMockTransaction(ctrl)
	notifier := NewMockNotifier(ctrl)

	store.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	store.EXPECT().InsertAlerts(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ db.Transaction, alerts []models.Alert) error {
			require.Len(t, alerts, 1)
			assert.Equal(t, models.SeverityCritical, alerts[0].State)
			assert.Equal(t, models.CategoryMonitoring, alerts[0].Category)
			assert.Equal(t, "Monitoring error: edge-1", alerts[0].Title)
			assert.Equal(t, "could not connect to device: connection refused", alerts[0].Description)

			return nil
		})
	store.EXPECT().TouchDevice(gomock.Any(), tx, int64(7), fixedNow).Return(nil)
	tx.EXPECT().Commit().Return(nil)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	notifier.EXPECT().Name().Return("mqtt")

	// a suppress window never applies to failure alerts, so no lookup is expected
	e := newTestEmitter(store, Options{
		SuppressWindow: time.Hour,
		Notifiers:      []Notifier{notifier},
	})

	require.NoError(t, e.EmitFailure(context.Background(), testDevice(), errors.New("connection refused")))
}

func TestEmitSuppressWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)
	tx := db.NewMockTransaction(ctrl)
	ctx := context.Background()

	store.EXPECT().LatestAlertTime(ctx, int64(7), models.CategoryCPU).
		Return(fixedNow.Add(-5*time.Minute), true, nil)
	store.EXPECT().LatestAlertTime(ctx, int64(7), models.CategoryMemory).
		Return(fixedNow.Add(-2*time.Hour), true, nil)
	store.EXPECT().LatestAlertTime(ctx, int64(7), models.CategoryLog).
		Return(time.Time{}, false, nil).Times(1)
	store.EXPECT().LatestAlertTime(ctx, int64(7), models.CategoryAI).
		Return(time.Time{}, false, errStorage)

	store.EXPECT().Begin(ctx).Return(tx, nil)
	store.EXPECT().InsertAlerts(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ db.Transaction, alerts []models.Alert) error {
			var categories []string
			for _, a := range alerts {
				categories = append(categories, a.Category)
			}

			assert.Equal(t, []string{
				models.CategoryMemory, models.CategoryLog, models.CategoryLog, models.CategoryAI,
			}, categories)

			return nil
		})
	store.EXPECT().TouchDevice(ctx, tx, int64(7), fixedNow).Return(nil)
	tx.EXPECT().Commit().Return(nil)

	e := newTestEmitter(store, Options{SuppressWindow: time.Hour})

	n, err := e.Emit(ctx, testDevice(), []models.Candidate{
		{Category: models.CategoryCPU, Severity: models.SeveritySevere, Title: "cpu"},
		{Category: models.CategoryMemory, Severity: models.SeveritySevere, Title: "memory"},
		{Category: models.CategoryLog, Severity: models.SeverityMinor, Title: "log 1"},
		{Category: models.CategoryLog, Severity: models.SeverityMinor, Title: "log 2"},
		{Category: models.CategoryAI, Severity: models.SeverityNotice, Title: "ai"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNotifyThreshold(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)
	tx := db.NewMockTransaction(ctrl)
	notifier := NewMockNotifier(ctrl)

	store.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	store.EXPECT().InsertAlerts(gomock.Any(), tx, gomock.Any()).Return(nil)
	store.EXPECT().TouchDevice(gomock.Any(), tx, int64(7), fixedNow).Return(nil)
	tx.EXPECT().Commit().Return(nil)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	e := newTestEmitter(store, Options{
		MinSeverity: models.SeverityMinor,
		Notifiers:   []Notifier{notifier},
	})

	_, err := e.Emit(context.Background(), testDevice(), []models.Candidate{
		{Category: models.CategoryLog, Severity: models.SeverityNotice, Title: "notice"},
		{Category: models.CategoryLog, Severity: models.SeverityMinor, Title: "minor"},
		{Category: models.CategoryCPU, Severity: models.SeveritySevere, Title: "severe"},
	})
	require.NoError(t, err)
}
