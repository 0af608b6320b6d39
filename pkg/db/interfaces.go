// Package db pkg/db/interfaces.go
package db

import (
	"context"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/mfreeman451/routeradar/pkg/db Row,Result,Rows,Transaction,Service

// Row represents a database row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result represents the result of a database operation.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Rows represents multiple database rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Transaction represents operations that can be performed within a database transaction.
type Transaction interface {
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Commit() error
	Rollback() error
}

// AlertFilter narrows ListAlerts. Zero fields do not filter.
type AlertFilter struct {
	DeviceID    int64
	Category    string
	MinSeverity models.Severity
	Since       time.Time
	Limit       int
}

// Service represents all database operations.
type Service interface {
	// Core database operations.

	Begin(ctx context.Context) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error

	// Device operations.

	CreateDevice(ctx context.Context, device *models.Device) (int64, error)
	GetDevice(ctx context.Context, id int64) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListActiveDevices(ctx context.Context) ([]models.Device, error)
	UpdateDeviceCredentials(ctx context.Context, tx Transaction, id int64, encUsername, encPassword string) error
	TouchDevice(ctx context.Context, tx Transaction, id int64, at time.Time) error

	// Alert operations.

	InsertAlerts(ctx context.Context, tx Transaction, alerts []models.Alert) error
	LatestAlertTime(ctx context.Context, deviceID int64, category string) (time.Time, bool, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)

	// Maintenance operations.

	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
