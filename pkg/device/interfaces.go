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

// Package device pkg/device/interfaces.go
package device

import (
	"context"

	"github.com/mfreeman451/routeradar/pkg/models"
)

//go:generate mockgen -destination=mock_device.go -package=device github.com/mfreeman451/routeradar/pkg/device Dialer,Session,CredentialSource

// Dialer opens an authenticated session to a router.
type Dialer interface {
	// Dial connects to endpoint (host:port) and logs in.
	Dial(ctx context.Context, endpoint, username, password string) (Session, error)
}

// Session is an open, authenticated connection to one router.
type Session interface {
	// SystemResource returns the current system resource reading.
	SystemResource(ctx context.Context) (*models.HealthSnapshot, error)
	// Interfaces returns the state of every interface.
	Interfaces(ctx context.Context) ([]models.InterfaceState, error)
	// Logs returns up to limit of the most recent log lines.
	Logs(ctx context.Context, limit int) ([]models.LogEntry, error)
	// Close ends the session.
	Close() error
}

// CredentialSource resolves the plaintext credentials of a device.
type CredentialSource interface {
	DecryptCredentials(device *models.Device) (username, password string, err error)
}
