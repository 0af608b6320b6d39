package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mfreeman451/routeradar/pkg/alerts"
	"github.com/mfreeman451/routeradar/pkg/classifier"
	"github.com/mfreeman451/routeradar/pkg/config"
	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/device"
	"github.com/mfreeman451/routeradar/pkg/health"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/monitor"
	"github.com/mfreeman451/routeradar/pkg/retention"
	"github.com/mfreeman451/routeradar/pkg/vault"
)

// app is the fully wired engine built from one Config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *db.DB
	vault   *vault.Vault
	client  *device.Client
	engine  *monitor.Engine
	metrics *monitor.Metrics
	closers []func()
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

func newDialer(cfg config.DeviceConfig) device.Dialer {
	if cfg.Protocol == "snmp" {
		return device.NewSNMPDialer(int(cfg.SNMP.Port), cfg.SNMP.AuthProtocol, time.Duration(cfg.DialTimeout))
	}

	return device.NewRouterOSDialer()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	v, err := vault.New(cfg.Vault.Keys...)
	if err != nil {
		return nil, err
	}

	store, err := db.New(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		vault:   v,
		metrics: monitor.NewMetrics(),
	}

	a.client = device.NewClient(v, newDialer(cfg.Device), device.Options{
		Attempts:    cfg.Device.ConnectAttempts,
		Delay:       time.Duration(cfg.Device.ConnectDelay),
		DialTimeout: time.Duration(cfg.Device.DialTimeout),
		LogLimit:    cfg.Device.LogLimit,
		DialRate:    cfg.Device.DialRate,
		DialBurst:   cfg.Device.DialBurst,
		AttemptHook: a.metrics.ObserveConnectAttempt,
	}, logger.With("component", "device"))

	notifiers, err := a.newNotifiers()
	if err != nil {
		a.Close()

		return nil, err
	}

	minSeverity, ok := models.ParseSeverity(cfg.Notify.MinSeverity)
	if !ok {
		logger.Warn("Unknown notify min_severity, using Severe", "min_severity", cfg.Notify.MinSeverity)

		minSeverity = models.SeveritySevere
	}

	emitter := alerts.NewEmitter(store, alerts.Options{
		MinSeverity:    minSeverity,
		SuppressWindow: time.Duration(cfg.SuppressWindow),
		Notifiers:      notifiers,
		OnCommit:       a.metrics.ObserveAlerts,
	}, logger.With("component", "alerts"))

	a.engine = monitor.NewEngine(monitor.Dependencies{
		Store:      store,
		Client:     a.client,
		Evaluator:  health.NewEvaluator(),
		Classifier: classifier.New(a.newAIClassifier(), 1),
		Emitter:    emitter,
		Sweeper:    retention.NewSweeper(store, logger.With("component", "retention")),
		Metrics:    a.metrics,
	}, monitor.Options{
		Workers:       cfg.Workers,
		DeviceTimeout: time.Duration(cfg.DeviceTimeout),
		LogLimit:      cfg.Device.LogLimit,
	}, logger.With("component", "monitor"))

	return a, nil
}

func (a *app) newAIClassifier() classifier.AIClassifier {
	if !a.cfg.AI.Enabled {
		return classifier.Noop{}
	}

	return classifier.NewOpenAIClassifier(classifier.OpenAIConfig{
		BaseURL:     a.cfg.AI.BaseURL,
		APIKey:      a.cfg.AI.APIKey,
		Model:       a.cfg.AI.Model,
		Temperature: a.cfg.AI.Temperature,
		MaxTokens:   a.cfg.AI.MaxTokens,
		Timeout:     time.Duration(a.cfg.AI.Timeout),
	}, a.logger.With("component", "classifier"), a.metrics.ObserveAIFallback)
}

func (a *app) newNotifiers() ([]alerts.Notifier, error) {
	var notifiers []alerts.Notifier

	for i, wh := range a.cfg.Notify.Webhooks {
		if !wh.Enabled {
			continue
		}

		n, err := alerts.NewWebhookNotifier(wh, a.logger)
		if err != nil {
			return nil, fmt.Errorf("webhook %d: %w", i, err)
		}

		notifiers = append(notifiers, n)
	}

	if a.cfg.Notify.MQTT.Enabled {
		m, err := alerts.NewMQTTNotifier(a.cfg.Notify.MQTT, a.logger)
		if err != nil {
			return nil, err
		}

		notifiers = append(notifiers, m)
		a.closers = append(a.closers, m.Close)
	}

	return notifiers, nil
}

// Close releases the broker connection and the database.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
}
