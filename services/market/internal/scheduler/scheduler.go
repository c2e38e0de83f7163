// Package scheduler runs the market housekeeping jobs on cron specs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"go.uber.org/zap"
)

type Config struct {
	SweepSpec   string
	LapseSpec   string
	CleanupSpec string
	Horizon     time.Duration
	JobTimeout  time.Duration
}

type Scheduler struct {
	cron   *cron.Cron
	sweep  service.SweepService
	orders service.OrderService
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

func New(sweep service.SweepService, orders service.OrderService, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	return &Scheduler{
		cron:   cron.New(),
		sweep:  sweep,
		orders: orders,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Start registers every configured job and starts the cron loop. Jobs run
// with a context derived from ctx, so cancelling ctx aborts a running job.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"expiry_sweep", s.cfg.SweepSpec, s.runSweep},
		{"order_lapse", s.cfg.LapseSpec, s.runLapse},
		{"notification_cleanup", s.cfg.CleanupSpec, s.runCleanup},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}

		if _, err := s.cron.AddFunc(job.spec, s.wrap(ctx, job.name, job.run)); err != nil {
			return fmt.Errorf("failed to schedule %s with %q: %w", job.name, job.spec, err)
		}

		mylogger.Info(ctx, s.logger, "Job scheduled", zap.String("job", job.name), zap.String("spec", job.spec))
	}

	s.cron.Start()
	return nil
}

// Stop waits for running jobs or for ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()

	select {
	case <-done.Done():
	case <-ctx.Done():
		mylogger.Warn(ctx, s.logger, "Scheduler stopped before jobs finished")
	}
}

func (s *Scheduler) wrap(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()

		started := time.Now()
		err := run(jobCtx)

		switch {
		case err == nil:
			mylogger.Debug(jobCtx, s.logger, "Job finished", zap.String("job", name), zap.Duration("took", time.Since(started)))
		case errors.Is(err, domain.ErrSweepInProgress):
			mylogger.Info(jobCtx, s.logger, "Job skipped, another run holds the lock", zap.String("job", name))
		default:
			mylogger.Error(jobCtx, s.logger, "Job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) error {
	_, err := s.sweep.RunExpirySweep(ctx, s.cfg.Horizon, s.now())
	return err
}

func (s *Scheduler) runLapse(ctx context.Context) error {
	n, err := s.orders.LapseOrders(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		mylogger.Info(ctx, s.logger, "Pending orders lapsed", zap.Int("count", n))
	}

	return nil
}

func (s *Scheduler) runCleanup(ctx context.Context) error {
	_, err := s.sweep.CleanupNotifications(ctx, s.now())
	return err
}
