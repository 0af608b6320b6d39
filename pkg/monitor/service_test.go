package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	cycles     atomic.Int32
	sweeps     atomic.Int32
	inFlight   atomic.Int32
	overlapped atomic.Bool
	cycleDelay time.Duration
	sweepDays  atomic.Int32
}

func (f *fakeRunner) RunMonitoringCycle(context.Context) (models.CycleResult, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inFlight.Add(-1)

	f.cycles.Add(1)
	time.Sleep(f.cycleDelay)

	return models.CycleResult{}, nil
}

func (f *fakeRunner) RunRetentionSweep(_ context.Context, days int) (int, error) {
	f.sweeps.Add(1)
	f.sweepDays.Store(int32(days))

	return 0, nil
}

func TestServiceRunsBothSchedules(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewService(runner, ServiceConfig{
		PollInterval:  10 * time.Millisecond,
		SweepInterval: 15 * time.Millisecond,
		RetentionDays: 7,
	}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := svc.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	require.NoError(t, svc.Stop(stopCtx))

	assert.GreaterOrEqual(t, runner.cycles.Load(), int32(2))
	assert.GreaterOrEqual(t, runner.sweeps.Load(), int32(1))
	assert.Equal(t, int32(7), runner.sweepDays.Load())
}

func TestServiceSkipsTickWhileCycleRuns(t *testing.T) {
	runner := &fakeRunner{cycleDelay: 80 * time.Millisecond}
	svc := NewService(runner, ServiceConfig{
		PollInterval:  5 * time.Millisecond,
		SweepInterval: time.Hour,
	}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = svc.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	require.NoError(t, svc.Stop(stopCtx))

	assert.False(t, runner.overlapped.Load())
	assert.LessOrEqual(t, runner.cycles.Load(), int32(3))
}

func TestServiceStopEndsStart(t *testing.T) {
	svc := NewService(&fakeRunner{}, ServiceConfig{PollInterval: time.Hour}, quietLogger())

	errCh := make(chan error, 1)

	go func() { errCh <- svc.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
