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

// Package device pkg/device/routeros.go
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/mfreeman451/routeradar/pkg/models"
)

const (
	cmdSystemResource = "/system/resource/print"
	cmdInterfaces     = "/interface/print"
	cmdLogs           = "/log/print"
)

// RouterOSDialer opens sessions over the RouterOS API protocol.
type RouterOSDialer struct{}

// NewRouterOSDialer returns a dialer for the RouterOS API.
func NewRouterOSDialer() *RouterOSDialer {
	return &RouterOSDialer{}
}

func (*RouterOSDialer) Dial(ctx context.Context, endpoint, username, password string) (Session, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	raw, err := new(net.Dialer).DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, classify(err)
	}

	conn, _ := routeros.NewClient(raw)

	release, err := bindDeadline(ctx, raw)
	if err != nil {
		_ = raw.Close()

		return nil, classify(err)
	}

	err = conn.LoginContext(ctx, username, password)

	release()

	if err != nil {
		_ = conn.Close()

		if cause := contextCause(ctx, err); cause != nil {
			return nil, fmt.Errorf("%w: login: %w", ErrTransient, cause)
		}

		return nil, classifyRouterOSError(err)
	}

	return &routerOSSession{conn: conn, raw: raw, closer: func() { _ = conn.Close() }}, nil
}

// bindDeadline makes blocking reads and writes on raw obey ctx: the context
// deadline becomes the socket deadline and cancellation expires it at once.
// release must be called when the exchange is over.
func bindDeadline(ctx context.Context, raw net.Conn) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := raw.SetDeadline(deadline); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = raw.SetDeadline(time.Unix(1, 0))
	})

	return func() {
		// a fired AfterFunc has already expired the connection
		if stop() {
			_ = raw.SetDeadline(time.Time{})
		}
	}, nil
}

// contextCause returns the context error behind a failed exchange. An expired
// socket deadline counts as the context deadline it was copied from.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}

	return nil
}

// classifyRouterOSError maps a RouterOS "!trap" during login to ErrAuth.
// Anything else falls through to the network classification.
func classifyRouterOSError(err error) error {
	var devErr *routeros.DeviceError
	if errors.As(err, &devErr) {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	return classify(err)
}

// commandRunner is the part of *routeros.Client the session uses.
type commandRunner interface {
	Run(sentence ...string) (*routeros.Reply, error)
}

type routerOSSession struct {
	conn commandRunner
	// raw carries the socket deadlines; nil in tests that fake the runner.
	raw    net.Conn
	closer func()
}

func (s *routerOSSession) run(ctx context.Context, sentence ...string) ([]map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.raw != nil {
		release, err := bindDeadline(ctx, s.raw)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	reply, err := s.conn.Run(sentence...)
	if err != nil {
		if cause := contextCause(ctx, err); cause != nil {
			return nil, fmt.Errorf("%s: %w: %w", sentence[0], cause, err)
		}

		return nil, fmt.Errorf("%s: %w", sentence[0], err)
	}

	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}

	return rows, nil
}

func (s *routerOSSession) SystemResource(ctx context.Context) (*models.HealthSnapshot, error) {
	rows, err := s.run(ctx, cmdSystemResource)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty %s reply", ErrMalformedReply, cmdSystemResource)
	}

	return parseResource(rows[0])
}

func (s *routerOSSession) Interfaces(ctx context.Context) ([]models.InterfaceState, error) {
	rows, err := s.run(ctx, cmdInterfaces)
	if err != nil {
		return nil, err
	}

	return parseInterfaces(rows), nil
}

func (s *routerOSSession) Logs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	rows, err := s.run(ctx, cmdLogs)
	if err != nil {
		return nil, err
	}

	return parseLogs(rows, limit), nil
}

func (s *routerOSSession) Close() error {
	if s.closer != nil {
		s.closer()
	}

	return nil
}

func parseResource(row map[string]string) (*models.HealthSnapshot, error) {
	cpu, err := parseInt(row, "cpu-load")
	if err != nil {
		return nil, err
	}

	total, err := parseUint(row, "total-memory")
	if err != nil {
		return nil, err
	}

	free, err := parseUint(row, "free-memory")
	if err != nil {
		return nil, err
	}

	return &models.HealthSnapshot{
		CPULoad:     cpu,
		MemoryTotal: total,
		MemoryFree:  free,
		Uptime:      row["uptime"],
		Version:     row["version"],
		BoardName:   row["board-name"],
	}, nil
}

func parseInt(row map[string]string, key string) (int, error) {
	raw, ok := row[key]
	if !ok || raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedReply, key, raw)
	}

	return v, nil
}

func parseUint(row map[string]string, key string) (uint64, error) {
	raw, ok := row[key]
	if !ok || raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedReply, key, raw)
	}

	return v, nil
}

func parseInterfaces(rows []map[string]string) []models.InterfaceState {
	ifaces := make([]models.InterfaceState, 0, len(rows))

	for _, row := range rows {
		ifaces = append(ifaces, models.InterfaceState{
			Name:     row["name"],
			Type:     row["type"],
			Running:  row["running"] == "true",
			Disabled: row["disabled"] == "true",
		})
	}

	return ifaces
}

// parseLogs keeps the newest limit entries; RouterOS returns the log
// oldest first.
func parseLogs(rows []map[string]string, limit int) []models.LogEntry {
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	logs := make([]models.LogEntry, 0, len(rows))

	for _, row := range rows {
		logs = append(logs, models.LogEntry{
			Time:     row["time"],
			Topics:   splitTopics(row["topics"]),
			Message:  row["message"],
			Facility: row["facility"],
			Severity: row["severity"],
		})
	}

	return logs
}

func splitTopics(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	topics := parts[:0]

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			topics = append(topics, p)
		}
	}

	return topics
}
