// Package lifecycle runs long-lived services until a signal, an error or
// context cancellation, then stops them in reverse order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const ShutdownTimeout = 10 * time.Second

// Service defines the interface that all services must implement.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServerOptions holds configuration for running a group of services.
type ServerOptions struct {
	ServiceName     string
	Services        []Service
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Signals overrides the shutdown signals; nil means SIGINT and SIGTERM.
	Signals []os.Signal
}

// RunServer starts every service and blocks until shutdown. A service whose
// Start fails triggers shutdown of the rest and is returned as the error.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Starting service", "service", opts.ServiceName)

	errChan := make(chan error, len(opts.Services))

	for _, svc := range opts.Services {
		go func(svc Service) {
			// errors after cancellation are part of shutdown, not failures
			if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
				errChan <- err
			}
		}(svc)
	}

	return handleShutdown(ctx, cancel, opts, logger, errChan)
}

func handleShutdown(
	ctx context.Context, cancel context.CancelFunc, opts *ServerOptions, logger *slog.Logger, errChan chan error) error {
	signals := opts.Signals
	if signals == nil {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)

	defer signal.Stop(sigChan)

	var runErr error

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, initiating shutdown", "signal", sig.String())
	case err := <-errChan:
		logger.Error("Service failed, initiating shutdown", "error", err)

		runErr = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		logger.Info("Context canceled, initiating shutdown")
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = ShutdownTimeout
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	cancel()

	for i := len(opts.Services) - 1; i >= 0; i-- {
		if err := opts.Services[i].Stop(shutdownCtx); err != nil {
			logger.Error("Error during service shutdown", "error", err)

			runErr = errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
		}
	}

	logger.Info("Service stopped", "service", opts.ServiceName)

	return runErr
}
