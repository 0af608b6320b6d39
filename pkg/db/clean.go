package db

import (
	"context"
	"fmt"
	"time"
)

// DeleteAlertsBefore removes alerts created strictly before cutoff in one
// transaction and returns how many were deleted. Devices are never touched.
func (db *DB) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			Rollback(tx)

			return
		}

		if cerr := tx.Commit(); cerr != nil {
			deleted, err = 0, fmt.Errorf("%w alerts: %w", ErrFailedToClean, cerr)
		}
	}()

	result, err := tx.Exec(ctx, "DELETE FROM alerts WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w alerts: %w", ErrFailedToClean, err)
	}

	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w alerts: %w", ErrFailedToClean, err)
	}

	return deleted, nil
}
