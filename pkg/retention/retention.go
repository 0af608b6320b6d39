// Package retention deletes alerts older than the retention horizon.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
)

var ErrInvalidRetention = errors.New("retention days must be positive")

// Store is the storage the sweeper needs.
type Store interface {
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper removes old alerts. Device rows are never touched.
type Sweeper struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewSweeper(store Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Sweep deletes alerts created before now minus retentionDays. Running it
// again with no new alerts deletes nothing.
func (s *Sweeper) Sweep(ctx context.Context, retentionDays int) (models.SweepResult, error) {
	if retentionDays <= 0 {
		return models.SweepResult{}, fmt.Errorf("%w: %d", ErrInvalidRetention, retentionDays)
	}

	cutoff := s.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleted, err := s.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return models.SweepResult{Cutoff: cutoff}, fmt.Errorf("retention sweep: %w", err)
	}

	s.logger.Info("retention sweep completed",
		"retention_days", retentionDays,
		"cutoff", cutoff,
		"deleted", deleted)

	return models.SweepResult{Deleted: int(deleted), Cutoff: cutoff}, nil
}
