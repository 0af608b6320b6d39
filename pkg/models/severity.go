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

// Package models pkg/models/severity.go
package models

import (
	"fmt"
	"strings"
)

// Severity is the closed, ordered set of alert states.
type Severity string

const (
	SeverityNotice   Severity = "Notice"
	SeverityMinor    Severity = "Minor"
	SeveritySevere   Severity = "Severe"
	SeverityCritical Severity = "Critical"
)

// Severities lists every valid severity in ascending order.
var Severities = []Severity{SeverityNotice, SeverityMinor, SeveritySevere, SeverityCritical}

// legacyLabels maps labels written by older deployments onto the canonical set.
var legacyLabels = map[string]Severity{
	"aviso":          SeverityNotice,
	"alerta menor":   SeverityMinor,
	"alerta mayor":   SeveritySevere,
	"alerta severa":  SeveritySevere,
	"alerta crítica": SeverityCritical,
	"alerta critica": SeverityCritical,
	"info":           SeverityNotice,
	"warning":        SeverityMinor,
	"error":          SeveritySevere,
}

// Rank returns the position of s in the severity order, or 0 if s is not valid.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i + 1
		}
	}

	return 0
}

// Valid reports whether s is one of the canonical severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is equal to or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Color returns the display color used in notification payloads.
func (s Severity) Color() string {
	switch s {
	case SeverityNotice:
		return "#3498db"
	case SeverityMinor:
		return "#f39c12"
	case SeveritySevere:
		return "#e74c3c"
	case SeverityCritical:
		return "#8e44ad"
	default:
		return "#3498db"
	}
}

// ParseSeverity maps a label onto the canonical set. Matching is
// case-insensitive and accepts legacy labels.
func ParseSeverity(label string) (Severity, bool) {
	normalized := strings.ToLower(strings.TrimSpace(label))

	for _, s := range Severities {
		if strings.ToLower(string(s)) == normalized {
			return s, true
		}
	}

	if s, ok := legacyLabels[normalized]; ok {
		return s, true
	}

	return SeverityNotice, false
}

// NormalizeSeverity coerces any label to a valid severity, defaulting to Notice.
func NormalizeSeverity(label string) Severity {
	s, _ := ParseSeverity(label)

	return s
}

// Scan implements sql.Scanner so stored labels are normalized on read.
func (s *Severity) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = NormalizeSeverity(v)
	case []byte:
		*s = NormalizeSeverity(string(v))
	case nil:
		*s = SeverityNotice
	default:
		return fmt.Errorf("%w: %T", errUnsupportedSeverityType, src)
	}

	return nil
}
