// Package api serves the ops HTTP surface: health, metrics and engine status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/models"
)

const (
	readHeaderTimeout = 5 * time.Second
	pingTimeout       = 2 * time.Second
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

// APIServer exposes /healthz, /metrics, /api/status and /api/alerts.
type APIServer struct {
	router   *mux.Router
	srv      *http.Server
	status   StatusProvider
	store    Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func NewAPIServer(addr string, status StatusProvider, store Store, gatherer prometheus.Gatherer, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &APIServer{
		router:   mux.NewRouter(),
		status:   status,
		store:    store,
		gatherer: gatherer,
		logger:   logger.With("component", "api"),
	}

	s.setupRoutes()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

func (s *APIServer) setupRoutes() {
	s.router.Use(CommonMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet, http.MethodOptions)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/status", s.getStatus).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/alerts", s.getAlerts).Methods(http.MethodGet, http.MethodOptions)
}

// ServeHTTP lets the server be exercised without a listener.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens until Stop is called.
func (s *APIServer) Start(context.Context) error {
	s.logger.Info("Starting ops HTTP server", "addr", s.srv.Addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *APIServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *APIServer) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", "error", err)
		writeJSON(w, s.logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})

		return
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.status.Status())
}

func (s *APIServer) getAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	alerts, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list alerts", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	if alerts == nil {
		alerts = []models.Alert{}
	}

	writeJSON(w, s.logger, http.StatusOK, alerts)
}

var (
	errInvalidDeviceID = errors.New("invalid device_id")
	errInvalidSeverity = errors.New("invalid min_severity")
	errInvalidLimit    = errors.New("invalid limit")
)

func parseAlertFilter(r *http.Request) (db.AlertFilter, error) {
	q := r.URL.Query()
	filter := db.AlertFilter{
		Category: q.Get("category"),
		Limit:    defaultAlertLimit,
	}

	if v := q.Get("device_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return filter, errInvalidDeviceID
		}

		filter.DeviceID = id
	}

	if v := q.Get("min_severity"); v != "" {
		sev, ok := models.ParseSeverity(v)
		if !ok {
			return filter, errInvalidSeverity
		}

		filter.MinSeverity = sev
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxAlertLimit {
			return filter, errInvalidLimit
		}

		filter.Limit = limit
	}

	return filter, nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}
