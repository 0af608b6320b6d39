/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package migrations holds one-off data migrations run when the database opens.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mfreeman451/routeradar/pkg/models"
)

// NormalizeSeverityLabels rewrites alert states outside the canonical set
// (for example "Alerta Mayor" from databases created by older deployments)
// onto the closed severity enum. It returns the number of rows rewritten.
func NormalizeSeverityLabels(ctx context.Context, db *sql.DB) (n int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Rollback in case of error
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())

			return
		}

		err = tx.Commit()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT state
		FROM alerts
		WHERE state NOT IN ('Notice', 'Minor', 'Severe', 'Critical')
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to query alert states: %w", err)
	}

	var labels []string

	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			_ = rows.Close()

			return 0, fmt.Errorf("failed to scan alert state: %w", err)
		}

		labels = append(labels, label)
	}

	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return 0, fmt.Errorf("failed to read alert states: %w", err)
	}

	for _, label := range labels {
		result, err := tx.ExecContext(ctx,
			`UPDATE alerts SET state = ? WHERE state = ?`,
			string(models.NormalizeSeverity(label)), label)
		if err != nil {
			return 0, fmt.Errorf("failed to normalize state %q: %w", label, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}

		n += affected
	}

	return n, nil
}
