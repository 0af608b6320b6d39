// Package db pkg/db/db.go provides SQLite database functionality for routeradar
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/mfreeman451/routeradar/pkg/db/migrations"
)

const (
	// SQL statements for database initialization.
	createTablesSQL = `
	-- Monitored routers
	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 8728,
		encrypted_username TEXT NOT NULL,
		encrypted_password TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		last_checked TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (owner_id, address, port)
	);

	-- Alerts raised per device
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('Notice', 'Minor', 'Severe', 'Critical')),
		category TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		recommendation TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
	);

	-- Indexes for better query performance
	CREATE INDEX IF NOT EXISTS idx_devices_active
		ON devices(active);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at
		ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_device_category_time
		ON alerts(device_id, category, created_at);
	`
)

// DB represents the database connection and operations.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

// dsn adds the pragmas every connection in the pool needs. Write
// transactions take the lock up front so concurrent device commits wait on
// busy_timeout instead of failing.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")

	return "file:" + path + "?" + params.Encode()
}

// New creates a new database connection, initializes the schema and
// normalizes alert states written by older deployments.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlDB, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.initSchema(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	n, err := migrations.NormalizeSeverityLabels(ctx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	if n > 0 {
		logger.Info("Normalized legacy alert states", "rows", n)
	}

	return db, nil
}

// initSchema creates the database tables if they don't exist.
func (db *DB) initSchema(ctx context.Context) error {
	_, err := db.ExecContext(ctx, createTablesSQL)

	return err
}

// Begin starts a unit of work.
func (db *DB) Begin(ctx context.Context) (Transaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	return ToTransaction(tx), nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.DB.Close()
}
