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

package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/mfreeman451/routeradar/pkg/models"
)

var (
	// ErrTransient marks failures worth retrying: refused or timed out
	// connections and login timeouts.
	ErrTransient = errors.New("transient device error")

	// ErrAuth marks an explicit credential rejection.
	ErrAuth = errors.New("device rejected credentials")

	// ErrProtocol marks a protocol or version mismatch.
	ErrProtocol = errors.New("device protocol error")

	ErrUnsupportedProtocol = errors.New("unsupported device protocol")
	ErrMalformedReply      = errors.New("malformed device reply")
)

// DeviceUnreachableError is returned once every connect attempt failed with a
// transient error.
type DeviceUnreachableError struct {
	DeviceID   int64
	DeviceName string
	Address    string
	Attempts   int
	Cause      error
}

func (e *DeviceUnreachableError) Error() string {
	return fmt.Sprintf("device %s (%s) unreachable after %d attempts: %v",
		e.DeviceName, e.Address, e.Attempts, e.Cause)
}

func (e *DeviceUnreachableError) Unwrap() error {
	return e.Cause
}

// DeviceAuthError is returned immediately, without retry, when the device
// rejects the session.
type DeviceAuthError struct {
	DeviceID   int64
	DeviceName string
	Address    string
	Cause      error
}

func (e *DeviceAuthError) Error() string {
	return fmt.Sprintf("device %s (%s) rejected session: %v", e.DeviceName, e.Address, e.Cause)
}

func (e *DeviceAuthError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classify tags a raw dial error as transient or not. Errors already tagged
// by a transport are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTransient) || errors.Is(err, ErrAuth) || errors.Is(err, ErrProtocol) {
		return err
	}

	if isNetworkTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

func isNetworkTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}

func newConnectError(device *models.Device, attempts int, err error) error {
	if IsTransient(err) {
		return &DeviceUnreachableError{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Address:    device.Endpoint(),
			Attempts:   attempts,
			Cause:      err,
		}
	}

	return &DeviceAuthError{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Address:    device.Endpoint(),
		Cause:      err,
	}
}
