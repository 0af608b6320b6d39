// Package api pkg/api/interfaces.go
package api

import (
	"context"

	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/monitor"
)

// StatusProvider reports the latest engine results.
type StatusProvider interface {
	Status() monitor.Status
}

// Store is the read-only storage the ops surface needs.
type Store interface {
	Ping(ctx context.Context) error
	ListAlerts(ctx context.Context, filter db.AlertFilter) ([]models.Alert, error)
}
