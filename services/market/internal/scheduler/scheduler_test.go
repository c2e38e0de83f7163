package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSweep struct {
	sweeps   atomic.Int32
	cleanups atomic.Int32
	horizon  atomic.Int64
}

func (f *fakeSweep) RunExpirySweep(_ context.Context, horizon time.Duration, _ time.Time) (service.SweepResult, error) {
	f.horizon.Store(int64(horizon))
	f.sweeps.Add(1)
	return service.SweepResult{}, domain.ErrSweepInProgress
}

func (f *fakeSweep) CleanupNotifications(context.Context, time.Time) (int64, error) {
	f.cleanups.Add(1)
	return 0, nil
}

type fakeOrders struct {
	service.OrderService
	lapses atomic.Int32
}

func (f *fakeOrders) LapseOrders(context.Context) (int, error) {
	f.lapses.Add(1)
	return 2, nil
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(&fakeSweep{}, &fakeOrders{}, Config{SweepSpec: "every morning"}, zap.NewNop())

	err := s.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "expiry_sweep")
}

func TestJobsRunOnSchedule(t *testing.T) {
	sweep := &fakeSweep{}
	orders := &fakeOrders{}

	s := New(sweep, orders, Config{
		SweepSpec:   "@every 1s",
		LapseSpec:   "@every 1s",
		CleanupSpec: "@every 1s",
		Horizon:     72 * time.Hour,
	}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	require.Eventually(t, func() bool {
		return sweep.sweeps.Load() > 0 && sweep.cleanups.Load() > 0 && orders.lapses.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(t, int64(72*time.Hour), sweep.horizon.Load())
}

func TestEmptySpecsScheduleNothing(t *testing.T) {
	s := New(&fakeSweep{}, &fakeOrders{}, Config{}, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	require.Empty(t, s.cron.Entries())
	s.Stop(context.Background())
}

func TestWrapPassesDeadline(t *testing.T) {
	s := New(&fakeSweep{}, &fakeOrders{}, Config{JobTimeout: time.Minute}, zap.NewNop())

	var hadDeadline bool
	s.wrap(context.Background(), "heartbeat", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})()

	require.True(t, hadDeadline)
}
