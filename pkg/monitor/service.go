package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
)

const (
	defaultPollInterval  = 15 * time.Minute
	defaultSweepInterval = 24 * time.Hour
	defaultRetentionDays = 30
)

// Runner is the pair of engine entry points the periodic service drives.
type Runner interface {
	RunMonitoringCycle(ctx context.Context) (models.CycleResult, error)
	RunRetentionSweep(ctx context.Context, days int) (int, error)
}

// ServiceConfig sets the two independent schedules.
type ServiceConfig struct {
	PollInterval  time.Duration
	SweepInterval time.Duration
	RetentionDays int
}

// Service runs monitoring cycles and retention sweeps on their own tickers.
// A cycle tick is skipped while the previous cycle is still running; sweeps
// and cycles may overlap.
type Service struct {
	runner  Runner
	config  ServiceConfig
	logger  *slog.Logger
	running atomic.Bool
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
}

func NewService(runner Runner, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}

	return &Service{
		runner: runner,
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start runs an initial cycle and then blocks on the schedules until ctx is
// canceled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting monitoring service",
		"poll_interval", s.config.PollInterval,
		"sweep_interval", s.config.SweepInterval,
		"retention_days", s.config.RetentionDays)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()

	s.triggerCycle(ctx)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.triggerCycle(ctx)
		}
	}
}

// Stop ends both schedules and waits for in-flight work or ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })

	finished := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) triggerCycle(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous monitoring cycle still running, skipping tick")

		return
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.runner.RunMonitoringCycle(ctx); err != nil {
			s.logger.Error("Monitoring cycle failed", "error", err)
		}
	}()
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.runner.RunRetentionSweep(ctx, s.config.RetentionDays); err != nil {
				s.logger.Error("Retention sweep failed", "error", err)
			}
		}
	}
}
