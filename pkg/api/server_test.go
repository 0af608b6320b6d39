package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/monitor"
)

type staticStatus monitor.Status

func (s staticStatus) Status() monitor.Status {
	return monitor.Status(s)
}

func newTestServer(t *testing.T, status monitor.Status) (*APIServer, *db.MockService) {
	t.Helper()

	store := db.NewMockService(gomock.NewController(t))
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "routeradar_test_total", Help: "test"}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewAPIServer(":0", staticStatus(status), store, reg, logger), store
}

func do(s *APIServer, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))

	return rec
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		want    int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "storage_down", pingErr: errors.New("database is closed"), want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestServer(t, monitor.Status{})
			store.EXPECT().Ping(gomock.Any()).Return(tt.pingErr)

			rec := do(s, http.MethodGet, "/healthz")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, monitor.Status{})

	rec := do(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "routeradar_test_total"))
}

func TestStatusEndpoint(t *testing.T) {
	cycle := models.CycleResult{CycleID: "c-1", DevicesTotal: 3, DevicesOK: 2, AlertsGenerated: 4, Duration: time.Second}
	s, _ := newTestServer(t, monitor.Status{LastCycle: &cycle})

	rec := do(s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got monitor.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.LastCycle)
	assert.Equal(t, 2, got.LastCycle.DevicesOK)
	assert.Nil(t, got.LastSweep)
}

func TestAlertsEndpoint(t *testing.T) {
	s, store := newTestServer(t, monitor.Status{})

	store.EXPECT().ListAlerts(gomock.Any(), db.AlertFilter{
		DeviceID:    7,
		MinSeverity: models.SeveritySevere,
		Limit:       5,
	}).Return([]models.Alert{{ID: 1, DeviceID: 7, State: models.SeverityCritical, Title: "cpu"}}, nil)

	rec := do(s, http.MethodGet, "/api/alerts?device_id=7&min_severity=severe&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, models.SeverityCritical, got[0].State)
}

func TestAlertsEndpointRejectsBadQuery(t *testing.T) {
	for _, q := range []string{"device_id=abc", "min_severity=loud", "limit=0", "limit=5000"} {
		t.Run(q, func(t *testing.T) {
			s, _ := newTestServer(t, monitor.Status{})

			rec := do(s, http.MethodGet, "/api/alerts?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPreflight(t *testing.T) {
	s, _ := newTestServer(t, monitor.Status{})

	rec := do(s, http.MethodOptions, "/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
}
