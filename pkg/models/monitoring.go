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

// Package models pkg/models/monitoring.go
package models

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// DefaultAPIPort is the RouterOS API port used when a device has none set.
const DefaultAPIPort = 8728

var errUnsupportedSeverityType = errors.New("unsupported severity type")

// Alert categories. Interface alerts use CategoryInterface + ":" + name.
const (
	CategoryCPU        = "cpu"
	CategoryMemory     = "memory"
	CategoryInterface  = "interface"
	CategoryLog        = "log"
	CategoryAI         = "ai"
	CategoryMonitoring = "monitoring"
)

// Device is a router polled by the engine.
type Device struct {
	ID                int64      `json:"id"`
	OwnerID           int64      `json:"owner_id"`
	Name              string     `json:"name"`
	Address           string     `json:"address"`
	Port              int        `json:"port"`
	EncryptedUsername string     `json:"-"`
	EncryptedPassword string     `json:"-"`
	Active            bool       `json:"active"`
	LastChecked       *time.Time `json:"last_checked,omitempty"`
}

// Endpoint returns the host:port the device is reachable on.
func (d *Device) Endpoint() string {
	port := d.Port
	if port == 0 {
		port = DefaultAPIPort
	}

	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// Alert is a persisted finding for a device.
type Alert struct {
	ID             int64     `json:"id"`
	DeviceID       int64     `json:"device_id"`
	State          Severity  `json:"state"`
	Category       string    `json:"category"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Candidate is a potential alert that has not been persisted.
type Candidate struct {
	Category       string
	Severity       Severity
	Title          string
	Description    string
	Recommendation string
}

// HealthSnapshot is the system resource reading of one poll. It is never stored.
type HealthSnapshot struct {
	CPULoad     int       `json:"cpu_load"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryFree  uint64    `json:"memory_free"`
	MemoryUsed  uint64    `json:"memory_used"`
	Uptime      string    `json:"uptime"`
	Version     string    `json:"version"`
	BoardName   string    `json:"board_name"`
	SampledAt   time.Time `json:"sampled_at"`
}

// LogEntry is one line of a device log.
type LogEntry struct {
	Time     string   `json:"time"`
	Topics   []string `json:"topics"`
	Message  string   `json:"message"`
	Facility string   `json:"facility,omitempty"`
	Severity string   `json:"severity,omitempty"`
}

// InterfaceState is the link state of one device interface.
type InterfaceState struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Running  bool   `json:"running"`
	Disabled bool   `json:"disabled"`
}

// CycleResult summarizes one monitoring cycle.
type CycleResult struct {
	CycleID         string        `json:"cycle_id"`
	DevicesTotal    int           `json:"devices_total"`
	DevicesOK       int           `json:"devices_ok"`
	AlertsGenerated int           `json:"alerts_generated"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	Deleted int       `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}
