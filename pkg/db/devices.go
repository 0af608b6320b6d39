package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
)

const deviceColumns = `id, owner_id, name, address, port, encrypted_username, encrypted_password, active, last_checked`

// CreateDevice inserts a device and returns its id.
func (db *DB) CreateDevice(ctx context.Context, device *models.Device) (int64, error) {
	port := device.Port
	if port == 0 {
		port = models.DefaultAPIPort
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO devices
			(owner_id, name, address, port, encrypted_username, encrypted_password, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		device.OwnerID,
		device.Name,
		device.Address,
		port,
		device.EncryptedUsername,
		device.EncryptedPassword,
		device.Active)
	if err != nil {
		return 0, fmt.Errorf("%w device: %w", ErrFailedToInsert, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w device id: %w", ErrFailedToInsert, err)
	}

	return id, nil
}

func scanDevice(row Row) (models.Device, error) {
	var (
		d           models.Device
		lastChecked sql.NullTime
	)

	if err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.Name,
		&d.Address,
		&d.Port,
		&d.EncryptedUsername,
		&d.EncryptedPassword,
		&d.Active,
		&lastChecked,
	); err != nil {
		return d, err
	}

	if lastChecked.Valid {
		t := lastChecked.Time.UTC()
		d.LastChecked = &t
	}

	return d, nil
}

// GetDevice loads one device by id.
func (db *DB) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	row := db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w device: %w", ErrFailedToQuery, err)
	}

	return &d, nil
}

// ListDevices returns every device, active or not.
func (db *DB) ListDevices(ctx context.Context) ([]models.Device, error) {
	return db.listDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
}

// ListActiveDevices returns the devices the monitoring cycle polls.
func (db *DB) ListActiveDevices(ctx context.Context) ([]models.Device, error) {
	return db.listDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE active = 1 ORDER BY id`)
}

func (db *DB) listDevices(ctx context.Context, query string) ([]models.Device, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}

	r := &SQLRows{rows}
	defer CloseRows(r)

	var devices []models.Device

	for r.Next() {
		d, err := scanDevice(r)
		if err != nil {
			return nil, fmt.Errorf("%w device row: %w", ErrFailedToScan, err)
		}

		devices = append(devices, d)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}

	return devices, nil
}

// UpdateDeviceCredentials replaces the stored ciphertexts of a device.
func (*DB) UpdateDeviceCredentials(ctx context.Context, tx Transaction, id int64, encUsername, encPassword string) error {
	result, err := tx.Exec(ctx, `
		UPDATE devices
		SET encrypted_username = ?,
			encrypted_password = ?
		WHERE id = ?
	`, encUsername, encPassword, id)
	if err != nil {
		return fmt.Errorf("%w device credentials: %w", ErrFailedToUpdate, err)
	}

	return requireOneRow(result, id)
}

// TouchDevice sets last_checked inside tx.
func (*DB) TouchDevice(ctx context.Context, tx Transaction, id int64, at time.Time) error {
	result, err := tx.Exec(ctx, `UPDATE devices SET last_checked = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("%w last_checked: %w", ErrFailedToUpdate, err)
	}

	return requireOneRow(result, id)
}

func requireOneRow(result Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}

	return nil
}
