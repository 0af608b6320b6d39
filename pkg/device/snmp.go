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

// Package device pkg/device/snmp.go
package device

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/mfreeman451/routeradar/pkg/models"
)

const (
	defaultSNMPPort = 161

	oidSysDescr        = ".1.3.6.1.2.1.1.1.0"
	oidSysUpTime       = ".1.3.6.1.2.1.1.3.0"
	oidMtxrFirmware    = ".1.3.6.1.4.1.14988.1.1.4.4.0"
	oidHrProcessorLoad = ".1.3.6.1.2.1.25.3.3.1.2"
	oidHrStorageType   = ".1.3.6.1.2.1.25.2.3.1.2"
	oidHrStorageUnits  = ".1.3.6.1.2.1.25.2.3.1.4"
	oidHrStorageSize   = ".1.3.6.1.2.1.25.2.3.1.5"
	oidHrStorageUsed   = ".1.3.6.1.2.1.25.2.3.1.6"
	oidHrStorageRAM    = ".1.3.6.1.2.1.25.2.1.2"
	oidIfDescr         = ".1.3.6.1.2.1.2.2.1.2"
	oidIfType          = ".1.3.6.1.2.1.2.2.1.3"
	oidIfAdminStatus   = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus    = ".1.3.6.1.2.1.2.2.1.8"

	ifStatusUp = 1
)

// SNMPError wraps SNMP-specific errors with additional context.
type SNMPError struct {
	Op      string
	Target  string
	Wrapped error
}

func (e *SNMPError) Error() string {
	return fmt.Sprintf("SNMP %s failed for target %s: %v", e.Op, e.Target, e.Wrapped)
}

func (e *SNMPError) Unwrap() error {
	return e.Wrapped
}

// SNMPDialer reads device telemetry over SNMPv3 (authNoPriv) using the
// device credentials as the USM user and passphrase.
type SNMPDialer struct {
	Port         uint16
	AuthProtocol string
	// Timeout bounds each request; the caller's context may cut it shorter.
	Timeout time.Duration
	Retries int
}

// NewSNMPDialer returns an SNMP dialer. Port 0 means 161; authProtocol is
// "MD5" or "SHA" (default); timeout 0 means the default dial timeout.
func NewSNMPDialer(port int, authProtocol string, timeout time.Duration) *SNMPDialer {
	if port <= 0 || port > 65535 {
		port = defaultSNMPPort
	}

	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	return &SNMPDialer{Port: uint16(port), AuthProtocol: authProtocol, Timeout: timeout}
}

func (d *SNMPDialer) authProtocol() gosnmp.SnmpV3AuthProtocol {
	if strings.EqualFold(d.AuthProtocol, "MD5") {
		return gosnmp.MD5
	}

	return gosnmp.SHA
}

func (d *SNMPDialer) Dial(ctx context.Context, endpoint, username, password string) (Session, error) {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	client := &gosnmp.GoSNMP{
		Target:        host,
		Port:          d.Port,
		Version:       gosnmp.Version3,
		Timeout:       timeout,
		Retries:       d.Retries,
		MaxOids:       gosnmp.MaxOids,
		SecurityModel: gosnmp.UserSecurityModel,
		MsgFlags:      gosnmp.AuthNoPriv,
		SecurityParameters: &gosnmp.UsmSecurityParameters{
			UserName:                 username,
			AuthenticationProtocol:   d.authProtocol(),
			AuthenticationPassphrase: password,
		},
	}

	return openSNMPSession(ctx, client, host)
}

// openSNMPSession connects client and proves the USM user with one Get.
// ctx bounds only the open; each later request is bound to the context of
// the session call that issues it.
func openSNMPSession(ctx context.Context, client *gosnmp.GoSNMP, host string) (*snmpSession, error) {
	conn := &gosnmpConn{client: client}

	client.Context = ctx
	if err := client.Connect(); err != nil {
		return nil, classify(&SNMPError{Op: "connect", Target: host, Wrapped: err})
	}

	// UDP has no handshake; the first request proves the USM user.
	if _, err := conn.Get(ctx, []string{oidSysUpTime}); err != nil {
		_ = client.Conn.Close()

		return nil, classifySNMPError(&SNMPError{Op: "login", Target: host, Wrapped: err})
	}

	return &snmpSession{conn: conn, target: host, closer: client.Conn.Close}, nil
}

// classifySNMPError tags USM report errors as credential rejections.
func classifySNMPError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unknown username") ||
		strings.Contains(msg, "wrong digest") ||
		strings.Contains(msg, "authentication failure") {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	if strings.Contains(msg, "timeout") {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return classify(err)
}

// snmpConn is the part of *gosnmp.GoSNMP the session uses, with each
// request bound to a context.
type snmpConn interface {
	Get(ctx context.Context, oids []string) (*gosnmp.SnmpPacket, error)
	BulkWalkAll(ctx context.Context, rootOid string) ([]gosnmp.SnmpPDU, error)
}

// gosnmpConn sets GoSNMP.Context for the duration of one request. gosnmp
// checks that context before every send and caps the read deadline with it.
// A session is driven by one goroutine at a time.
type gosnmpConn struct {
	client *gosnmp.GoSNMP
}

func (c *gosnmpConn) bind(ctx context.Context) func() {
	c.client.Context = ctx

	return func() { c.client.Context = context.Background() }
}

func (c *gosnmpConn) Get(ctx context.Context, oids []string) (*gosnmp.SnmpPacket, error) {
	defer c.bind(ctx)()

	return c.client.Get(oids)
}

func (c *gosnmpConn) BulkWalkAll(ctx context.Context, rootOid string) ([]gosnmp.SnmpPDU, error) {
	defer c.bind(ctx)()

	return c.client.BulkWalkAll(rootOid)
}

type snmpSession struct {
	conn   snmpConn
	target string
	closer func() error
}

func (s *snmpSession) walk(ctx context.Context, root string) ([]gosnmp.SnmpPDU, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdus, err := s.conn.BulkWalkAll(ctx, root)
	if err != nil {
		return nil, &SNMPError{Op: "walk " + root, Target: s.target, Wrapped: err}
	}

	return pdus, nil
}

func (s *snmpSession) SystemResource(ctx context.Context) (*models.HealthSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	packet, err := s.conn.Get(ctx, []string{oidSysDescr, oidSysUpTime, oidMtxrFirmware})
	if err != nil {
		return nil, &SNMPError{Op: "get", Target: s.target, Wrapped: err}
	}

	snapshot := &models.HealthSnapshot{}

	for _, v := range packet.Variables {
		switch v.Name {
		case oidSysDescr:
			snapshot.BoardName = pduString(v)
		case oidSysUpTime:
			if ticks, ok := pduUint(v); ok {
				snapshot.Uptime = (time.Duration(ticks) * time.Second / 100).String()
			}
		case oidMtxrFirmware:
			snapshot.Version = pduString(v)
		}
	}

	loads, err := s.walk(ctx, oidHrProcessorLoad)
	if err != nil {
		return nil, err
	}

	snapshot.CPULoad = averageLoad(loads)

	storage := make(map[string][]gosnmp.SnmpPDU, 4)

	for _, col := range []string{oidHrStorageType, oidHrStorageUnits, oidHrStorageSize, oidHrStorageUsed} {
		pdus, err := s.walk(ctx, col)
		if err != nil {
			return nil, err
		}

		storage[col] = pdus
	}

	snapshot.MemoryTotal, snapshot.MemoryFree = ramUsage(storage)

	return snapshot, nil
}

func (s *snmpSession) Interfaces(ctx context.Context) ([]models.InterfaceState, error) {
	columns := make(map[string][]gosnmp.SnmpPDU, 4)

	for _, col := range []string{oidIfDescr, oidIfType, oidIfAdminStatus, oidIfOperStatus} {
		pdus, err := s.walk(ctx, col)
		if err != nil {
			return nil, err
		}

		columns[col] = pdus
	}

	return ifTable(columns), nil
}

// Logs returns an empty batch: SNMP exposes no log table.
func (*snmpSession) Logs(context.Context, int) ([]models.LogEntry, error) {
	return []models.LogEntry{}, nil
}

func (s *snmpSession) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer()
}

func averageLoad(pdus []gosnmp.SnmpPDU) int {
	var sum, n uint64

	for _, p := range pdus {
		if v, ok := pduUint(p); ok {
			sum += v
			n++
		}
	}

	if n == 0 {
		return 0
	}

	return int(sum / n)
}

// indexed maps the row index (last OID arc) of each PDU in a column.
func indexed(pdus []gosnmp.SnmpPDU) map[string]gosnmp.SnmpPDU {
	rows := make(map[string]gosnmp.SnmpPDU, len(pdus))

	for _, p := range pdus {
		i := strings.LastIndexByte(p.Name, '.')
		if i < 0 {
			continue
		}

		rows[p.Name[i+1:]] = p
	}

	return rows
}

// ramUsage returns total and free bytes of the hrStorageRam row.
func ramUsage(storage map[string][]gosnmp.SnmpPDU) (total, free uint64) {
	units := indexed(storage[oidHrStorageUnits])
	sizes := indexed(storage[oidHrStorageSize])
	used := indexed(storage[oidHrStorageUsed])

	for idx, t := range indexed(storage[oidHrStorageType]) {
		if strings.TrimPrefix(pduString(t), ".") != strings.TrimPrefix(oidHrStorageRAM, ".") {
			continue
		}

		unit, _ := pduUint(units[idx])
		size, _ := pduUint(sizes[idx])
		u, _ := pduUint(used[idx])

		if unit == 0 {
			unit = 1
		}

		total = size * unit
		if u <= size {
			free = (size - u) * unit
		}

		return total, free
	}

	return 0, 0
}

func ifTable(columns map[string][]gosnmp.SnmpPDU) []models.InterfaceState {
	types := indexed(columns[oidIfType])
	admin := indexed(columns[oidIfAdminStatus])
	oper := indexed(columns[oidIfOperStatus])

	descr := columns[oidIfDescr]
	ifaces := make([]models.InterfaceState, 0, len(descr))

	for _, d := range descr {
		i := strings.LastIndexByte(d.Name, '.')
		idx := d.Name[i+1:]

		adminStatus, _ := pduUint(admin[idx])
		operStatus, _ := pduUint(oper[idx])

		var ifType string
		if t, ok := pduUint(types[idx]); ok {
			ifType = strconv.FormatUint(t, 10)
		}

		ifaces = append(ifaces, models.InterfaceState{
			Name:     pduString(d),
			Type:     ifType,
			Running:  operStatus == ifStatusUp,
			Disabled: adminStatus != ifStatusUp,
		})
	}

	return ifaces
}

func pduString(p gosnmp.SnmpPDU) string {
	switch v := p.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return ""
	}
}

func pduUint(p gosnmp.SnmpPDU) (uint64, bool) {
	switch p.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64,
		gosnmp.TimeTicks, gosnmp.Uinteger32:
		n := gosnmp.ToBigInt(p.Value)
		if n.Sign() < 0 {
			return 0, false
		}

		return n.Uint64(), true
	default:
		return 0, false
	}
}
