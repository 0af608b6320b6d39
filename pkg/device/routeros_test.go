package device

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	replies map[string][]map[string]string
	err     error
	calls   []string
}

func (f *fakeRunner) Run(sentence ...string) (*routeros.Reply, error) {
	f.calls = append(f.calls, sentence[0])

	if f.err != nil {
		return nil, f.err
	}

	reply := &routeros.Reply{}
	for _, m := range f.replies[sentence[0]] {
		reply.Re = append(reply.Re, &proto.Sentence{Word: "!re", Map: m})
	}

	return reply, nil
}

func TestParseResource(t *testing.T) {
	tests := []struct {
		name    string
		row     map[string]string
		wantCPU int
		wantErr bool
	}{
		{
			name: "full",
			row: map[string]string{
				"cpu-load": "37", "total-memory": "268435456", "free-memory": "134217728",
				"uptime": "1w2d3h", "version": "7.14.2 (stable)", "board-name": "RB5009UG+S+",
			},
			wantCPU: 37,
		},
		{name: "missing_fields", row: map[string]string{}, wantCPU: 0},
		{name: "garbage_cpu", row: map[string]string{"cpu-load": "high"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, err := parseResource(tt.row)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedReply)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCPU, snapshot.CPULoad)
			assert.Equal(t, tt.row["board-name"], snapshot.BoardName)
		})
	}
}

func TestRouterOSSession(t *testing.T) {
	runner := &fakeRunner{replies: map[string][]map[string]string{
		cmdSystemResource: {{"cpu-load": "95", "total-memory": "1000", "free-memory": "100"}},
		cmdInterfaces: {
			{"name": "ether1", "type": "ether", "running": "true", "disabled": "false"},
			{"name": "ether2", "type": "ether", "running": "false", "disabled": "true"},
		},
		cmdLogs: {
			{"time": "10:00:00", "topics": "system,info", "message": "first"},
			{"time": "10:00:01", "topics": "system,error,critical", "message": "login failure"},
			{"time": "10:00:02", "topics": "", "message": "last"},
		},
	}}

	closed := false
	s := &routerOSSession{conn: runner, closer: func() { closed = true }}
	ctx := context.Background()

	snapshot, err := s.SystemResource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 95, snapshot.CPULoad)
	assert.Equal(t, uint64(1000), snapshot.MemoryTotal)

	ifaces, err := s.Interfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	assert.True(t, ifaces[0].Running)
	assert.True(t, ifaces[1].Disabled)

	logs, err := s.Logs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, []string{"system", "error", "critical"}, logs[0].Topics)
	assert.Nil(t, logs[1].Topics)

	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestRouterOSSessionEmptyResource(t *testing.T) {
	s := &routerOSSession{conn: &fakeRunner{}}

	_, err := s.SystemResource(context.Background())
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestRouterOSSessionRunError(t *testing.T) {
	errBroken := errors.New("broken pipe")
	s := &routerOSSession{conn: &fakeRunner{err: errBroken}}

	_, err := s.Interfaces(context.Background())
	require.ErrorIs(t, err, errBroken)
}

func TestRouterOSSessionHonorsContext(t *testing.T) {
	runner := &fakeRunner{}
	s := &routerOSSession{conn: runner}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Logs(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.calls)
}

func TestClassifyRouterOSError(t *testing.T) {
	trap := &routeros.DeviceError{Sentence: &proto.Sentence{
		Word: "!trap",
		Map:  map[string]string{"message": "invalid user name or password (6)"},
	}}

	require.ErrorIs(t, classifyRouterOSError(trap), ErrAuth)
	require.ErrorIs(t, classifyRouterOSError(errRefused), ErrTransient)
}

// stalledRouter accepts TCP connections and hands each to serve, which
// returns once the client hangs up.
func stalledRouter(t *testing.T, serve func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func() {
				defer func() { _ = conn.Close() }()

				serve(conn)
			}()
		}
	}()

	return ln.Addr().String()
}

func silent(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

// loginThenSilent accepts the /login sentence and answers nothing after it.
func loginThenSilent(conn net.Conn) {
	r := proto.NewReader(conn)
	if _, err := r.ReadSentence(); err != nil {
		return
	}

	w := proto.NewWriter(conn)
	w.BeginSentence()
	w.WriteWord("!done")
	_ = w.EndSentence()

	_, _ = io.Copy(io.Discard, conn)
}

func TestRouterOSDialStalledLoginRespectsDeadline(t *testing.T) {
	addr := stalledRouter(t, silent)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewRouterOSDialer().Dial(ctx, addr, "admin", "secret-pass")

	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransient)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotContains(t, err.Error(), "secret-pass")
}

func TestRouterOSSessionStalledCommandRespectsDeadline(t *testing.T) {
	addr := stalledRouter(t, loginThenSilent)

	s, err := NewRouterOSDialer().Dial(context.Background(), addr, "admin", "pw")
	require.NoError(t, err)

	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.SystemResource(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRouterOSSessionCancelInterruptsCommand(t *testing.T) {
	addr := stalledRouter(t, loginThenSilent)

	s, err := NewRouterOSDialer().Dial(context.Background(), addr, "admin", "pw")
	require.NoError(t, err)

	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	_, err = s.Interfaces(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
