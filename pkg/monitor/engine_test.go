package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-routeros/routeros/v3/proto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mfreeman451/routeradar/pkg/alerts"
	"github.com/mfreeman451/routeradar/pkg/classifier"
	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/device"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/retention"
)

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store   *db.DB
	dialer  *device.MockDialer
	ai      *classifier.MockAIClassifier
	engine  *Engine
	metrics *Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	ctx := context.Background()

	store, err := db.New(ctx, filepath.Join(t.TempDir(), "monitor.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	creds := device.NewMockCredentialSource(ctrl)
	creds.EXPECT().DecryptCredentials(gomock.Any()).Return("admin", "pw", nil).AnyTimes()

	h := &harness{
		store:   store,
		dialer:  device.NewMockDialer(ctrl),
		ai:      classifier.NewMockAIClassifier(ctrl),
		metrics: NewMetrics(),
	}

	client := device.NewClient(creds, h.dialer, device.Options{
		Attempts:    3,
		Delay:       0,
		AttemptHook: h.metrics.ObserveConnectAttempt,
	}, quietLogger())

	h.engine = NewEngine(Dependencies{
		Store:      store,
		Client:     client,
		Classifier: classifier.New(h.ai, 1),
		Emitter:    alerts.NewEmitter(store, alerts.Options{OnCommit: h.metrics.ObserveAlerts}, quietLogger()),
		Sweeper:    retention.NewSweeper(store, quietLogger()),
		Metrics:    h.metrics,
	}, opts, quietLogger())

	return h
}

func (h *harness) addDevice(t *testing.T, name, address string, active bool) *models.Device {
	t.Helper()

	d := &models.Device{
		OwnerID: 1, Name: name, Address: address,
		EncryptedUsername: "enc-u", EncryptedPassword: "enc-p", Active: active,
	}

	id, err := h.store.CreateDevice(context.Background(), d)
	require.NoError(t, err)

	d.ID = id

	return d
}

func healthySession(ctrl *gomock.Controller, cpu int) *device.MockSession {
	s := device.NewMockSession(ctrl)
	s.EXPECT().SystemResource(gomock.Any()).Return(&models.HealthSnapshot{
		CPULoad: cpu, MemoryTotal: 1000, MemoryFree: 600,
	}, nil)
	s.EXPECT().Interfaces(gomock.Any()).Return([]models.InterfaceState{{Name: "ether1", Running: true}}, nil)
	s.EXPECT().Logs(gomock.Any(), defaultCycleLogLimit).Return(nil, nil)
	s.EXPECT().Close().Return(nil)

	return s
}

func alertsFor(t *testing.T, store *db.DB, deviceID int64) []models.Alert {
	t.Helper()

	got, err := store.ListAlerts(context.Background(), db.AlertFilter{DeviceID: deviceID})
	require.NoError(t, err)

	return got
}

func TestCycleIsolatesUnreachableDevice(t *testing.T) {
	h := newHarness(t, Options{Workers: 2})
	ctrl := gomock.NewController(t)

	up := h.addDevice(t, "edge-1", "10.0.0.1", true)
	down := h.addDevice(t, "edge-2", "10.0.0.2", true)
	h.addDevice(t, "spare", "10.0.0.3", false)

	h.dialer.EXPECT().Dial(gomock.Any(), "10.0.0.1:8728", "admin", "pw").Return(healthySession(ctrl, 95), nil)
	h.dialer.EXPECT().Dial(gomock.Any(), "10.0.0.2:8728", "admin", "pw").Return(nil, errRefused).Times(3)

	res, err := h.engine.RunMonitoringCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.DevicesTotal)
	assert.Equal(t, 1, res.DevicesOK)
	assert.Equal(t, 2, res.AlertsGenerated)
	assert.NotEmpty(t, res.CycleID)

	upAlerts := alertsFor(t, h.store, up.ID)
	require.Len(t, upAlerts, 1)
	assert.Equal(t, models.SeverityCritical, upAlerts[0].State)
	assert.Equal(t, models.CategoryCPU, upAlerts[0].Category)

	downAlerts := alertsFor(t, h.store, down.ID)
	require.Len(t, downAlerts, 1)
	assert.Equal(t, models.SeverityCritical, downAlerts[0].State)
	assert.Equal(t, models.CategoryMonitoring, downAlerts[0].Category)
	assert.True(t, strings.HasPrefix(downAlerts[0].Description, "could not connect to device: "))
	assert.NotContains(t, downAlerts[0].Description, "pw")

	for _, id := range []int64{up.ID, down.ID} {
		d, err := h.store.GetDevice(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, d.LastChecked, "device %d", id)
	}

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.deviceOutcomes.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.deviceOutcomes.WithLabelValues("failed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(h.metrics.connectAttempts.WithLabelValues(device.AttemptTransient)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.alerts.WithLabelValues(string(models.SeverityCritical))), 0)

	status := h.engine.Status()
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, res.CycleID, status.LastCycle.CycleID)
}

func TestCycleHealthyAndHotDevices(t *testing.T) {
	h := newHarness(t, Options{Workers: 2})
	ctrl := gomock.NewController(t)

	calm := h.addDevice(t, "edge-1", "10.0.0.1", true)
	hot := h.addDevice(t, "edge-2", "10.0.0.2", true)

	h.dialer.EXPECT().Dial(gomock.Any(), "10.0.0.1:8728", "admin", "pw").Return(healthySession(ctrl, 12), nil)
	h.dialer.EXPECT().Dial(gomock.Any(), "10.0.0.2:8728", "admin", "pw").Return(healthySession(ctrl, 95), nil)

	res, err := h.engine.RunMonitoringCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.DevicesTotal)
	assert.Equal(t, 2, res.DevicesOK)
	assert.Equal(t, 1, res.AlertsGenerated)

	assert.Empty(t, alertsFor(t, h.store, calm.ID))

	hotAlerts := alertsFor(t, h.store, hot.ID)
	require.Len(t, hotAlerts, 1)
	assert.Equal(t, models.SeverityCritical, hotAlerts[0].State)
	assert.Equal(t, models.CategoryCPU, hotAlerts[0].Category)
}

func TestCycleRecoversPanicAndClosesSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctrl := gomock.NewController(t)

	d := h.addDevice(t, "edge-1", "10.0.0.1", true)

	s := device.NewMockSession(ctrl)
	s.EXPECT().SystemResource(gomock.Any()).DoAndReturn(func(context.Context) (*models.HealthSnapshot, error) {
		panic("malformed reply")
	})
	s.EXPECT().Close().Return(nil)

	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(s, nil)

	res, err := h.engine.RunMonitoringCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.DevicesOK)
	assert.Equal(t, 1, res.AlertsGenerated)

	got := alertsFor(t, h.store, d.ID)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Description, "malformed reply")
}

func TestCycleDeviceTimeoutCountsAsFailure(t *testing.T) {
	h := newHarness(t, Options{DeviceTimeout: 50 * time.Millisecond})
	ctrl := gomock.NewController(t)

	d := h.addDevice(t, "slow", "10.0.0.9", true)

	s := device.NewMockSession(ctrl)
	s.EXPECT().SystemResource(gomock.Any()).DoAndReturn(func(ctx context.Context) (*models.HealthSnapshot, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	})
	s.EXPECT().Close().Return(nil)

	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(s, nil)

	res, err := h.engine.RunMonitoringCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.DevicesOK)

	got := alertsFor(t, h.store, d.ID)
	require.Len(t, got, 1)
	assert.Equal(t, models.CategoryMonitoring, got[0].Category)
}

// hungRouter listens on loopback and stops answering at the given point of
// the RouterOS exchange. It returns the listener port.
func hungRouter(t *testing.T, answerLogin bool) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func() {
				defer func() { _ = conn.Close() }()

				if answerLogin {
					if _, err := proto.NewReader(conn).ReadSentence(); err != nil {
						return
					}

					w := proto.NewWriter(conn)
					w.BeginSentence()
					w.WriteWord("!done")
					_ = w.EndSentence()
				}

				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestCycleDeviceBudgetBoundsHungRouter(t *testing.T) {
	tests := []struct {
		name        string
		answerLogin bool
	}{
		{name: "silent_at_login", answerLogin: false},
		{name: "silent_after_login", answerLogin: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			ctx := context.Background()

			store, err := db.New(ctx, filepath.Join(t.TempDir(), "hung.db"), quietLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			creds := device.NewMockCredentialSource(ctrl)
			creds.EXPECT().DecryptCredentials(gomock.Any()).Return("admin", "pw", nil).AnyTimes()

			client := device.NewClient(creds, device.NewRouterOSDialer(), device.Options{
				Attempts:    3,
				Delay:       10 * time.Millisecond,
				DialTimeout: 10 * time.Second,
			}, quietLogger())

			e := NewEngine(Dependencies{
				Store:      store,
				Client:     client,
				Classifier: classifier.New(nil, 1),
				Emitter:    alerts.NewEmitter(store, alerts.Options{}, quietLogger()),
				Sweeper:    retention.NewSweeper(store, quietLogger()),
			}, Options{DeviceTimeout: 300 * time.Millisecond}, quietLogger())

			d := &models.Device{
				OwnerID: 1, Name: "hung", Address: "127.0.0.1", Port: hungRouter(t, tt.answerLogin),
				EncryptedUsername: "enc-u", EncryptedPassword: "enc-p", Active: true,
			}

			d.ID, err = store.CreateDevice(ctx, d)
			require.NoError(t, err)

			type outcome struct {
				res models.CycleResult
				err error
			}

			done := make(chan outcome, 1)

			go func() {
				res, err := e.RunMonitoringCycle(ctx)
				done <- outcome{res, err}
			}()

			select {
			case out := <-done:
				require.NoError(t, out.err)
				assert.Equal(t, 1, out.res.DevicesTotal)
				assert.Equal(t, 0, out.res.DevicesOK)
				assert.Equal(t, 1, out.res.AlertsGenerated)
			case <-time.After(5 * time.Second):
				t.Fatal("cycle did not finish within the device budget")
			}

			got := alertsFor(t, store, d.ID)
			require.Len(t, got, 1)
			assert.Equal(t, models.CategoryMonitoring, got[0].Category)
			assert.NotContains(t, got[0].Description, "pw")
		})
	}
}

func TestCycleFailsWhenStorageIsUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := db.NewMockService(ctrl)

	store.EXPECT().ListActiveDevices(gomock.Any()).Return(nil, errors.New("unable to open database file"))

	e := NewEngine(Dependencies{Store: store}, Options{}, quietLogger())

	_, err := e.RunMonitoringCycle(context.Background())
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Nil(t, e.Status().LastCycle)
}

func TestRunRetentionSweep(t *testing.T) {
	h := newHarness(t, Options{})
	d := h.addDevice(t, "edge-1", "10.0.0.1", true)
	ctx := context.Background()

	tx, err := h.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.store.InsertAlerts(ctx, tx, []models.Alert{
		{DeviceID: d.ID, State: models.SeverityMinor, Category: models.CategoryLog, Title: "old",
			CreatedAt: time.Now().Add(-40 * 24 * time.Hour)},
	}))
	require.NoError(t, tx.Commit())

	n, err := h.engine.RunRetentionSweep(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.engine.RunRetentionSweep(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.engine.RunRetentionSweep(ctx, 0)
	require.ErrorIs(t, err, retention.ErrInvalidRetention)

	require.NotNil(t, h.engine.Status().LastSweep)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.sweepDeleted), 0)
}

func TestAnalyzeDeviceLogs(t *testing.T) {
	h := newHarness(t, Options{})
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	d := h.addDevice(t, "edge-1", "10.0.0.1", true)
	inactive := h.addDevice(t, "spare", "10.0.0.2", false)

	logs := []models.LogEntry{{Topics: []string{"system"}, Message: "router rebooted"}}

	s := device.NewMockSession(ctrl)
	s.EXPECT().Logs(gomock.Any(), defaultAnalyzeLogLimit).Return(logs, nil)
	s.EXPECT().Close().Return(nil)

	h.dialer.EXPECT().Dial(gomock.Any(), "10.0.0.1:8728", "admin", "pw").Return(s, nil)
	h.ai.EXPECT().Classify(gomock.Any(), "edge-1", logs).Return(classifier.Analysis{
		Summary:         "unexpected reboot",
		Severity:        models.SeveritySevere,
		Recommendations: []string{"check power supply"},
	})

	c, err := h.engine.AnalyzeDeviceLogs(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeveritySevere, c.Severity)

	got := alertsFor(t, h.store, d.ID)
	require.Len(t, got, 1)
	assert.Equal(t, models.CategoryAI, got[0].Category)
	assert.Equal(t, "check power supply", got[0].Recommendation)

	_, err = h.engine.AnalyzeDeviceLogs(ctx, inactive.ID)
	require.ErrorIs(t, err, ErrDeviceInactive)

	_, err = h.engine.AnalyzeDeviceLogs(ctx, 999)
	require.ErrorIs(t, err, db.ErrDeviceNotFound)
}

func TestAnalyzeDeviceLogsRequiresAI(t *testing.T) {
	e := NewEngine(Dependencies{}, Options{}, quietLogger())

	_, err := e.AnalyzeDeviceLogs(context.Background(), 1)
	require.ErrorIs(t, err, ErrAIDisabled)
}
