package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/metrics"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"github.com/sakashimaa/freshsave/services/market/internal/sweep"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultSweepLockTTL  = 10 * time.Minute
	DefaultReadRetention = 30 * 24 * time.Hour

	sweepLockKey          = "freshsave:sweep:expiry"
	notificationsCleanKey = "freshsave:sweep:notifications"
)

type SweepResult struct {
	Scanned    int `json:"scanned"`
	Discounted int `json:"discounted"`
	Expired    int `json:"expired"`
	Notified   int `json:"notified"`
	Failed     int `json:"failed"`
}

// Locker guards a run across replicas. release is always safe to call.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

type SweepService interface {
	RunExpirySweep(ctx context.Context, horizon time.Duration, now time.Time) (SweepResult, error)
	CleanupNotifications(ctx context.Context, now time.Time) (int64, error)
}

type SweepConfig struct {
	Horizon       time.Duration
	LockTTL       time.Duration
	ReadRetention time.Duration
}

type sweepService struct {
	uow      repository.UnitOfWork
	fanout   Fanout
	locker   Locker
	items    ItemInvalidator
	cfg      SweepConfig
	running  atomic.Bool
	cleaning atomic.Bool
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

type SweepOption func(*sweepService)

func WithSweepLocker(l Locker) SweepOption {
	return func(s *sweepService) {
		s.locker = l
	}
}

func WithSweepItemInvalidator(inv ItemInvalidator) SweepOption {
	return func(s *sweepService) {
		s.items = inv
	}
}

func WithSweepMetrics(m *metrics.Metrics) SweepOption {
	return func(s *sweepService) {
		s.metrics = m
	}
}

func NewSweepService(uow repository.UnitOfWork, fanout Fanout, cfg SweepConfig, logger *zap.Logger, opts ...SweepOption) SweepService {
	if cfg.Horizon <= 0 {
		cfg.Horizon = sweep.DefaultHorizon
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultSweepLockTTL
	}
	if cfg.ReadRetention <= 0 {
		cfg.ReadRetention = DefaultReadRetention
	}

	s := &sweepService{
		uow:    uow,
		fanout: fanout,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("sweep_service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RunExpirySweep discounts items about to expire and expires the ones past
// their date. Running it again with the same now discounts nothing new.
func (s *sweepService) RunExpirySweep(ctx context.Context, horizon time.Duration, now time.Time) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "SweepService.RunExpirySweep")
	defer span.End()

	var res SweepResult

	release, err := s.lock(ctx, &s.running, sweepLockKey)
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Expiry sweep skipped", zap.Error(err))
		return res, err
	}
	defer release(context.WithoutCancel(ctx))

	if horizon <= 0 {
		horizon = s.cfg.Horizon
	}
	started := time.Now()

	span.SetAttributes(
		attribute.String("now", now.Format(time.RFC3339)),
		attribute.String("horizon", horizon.String()),
	)

	items, err := s.uow.Items().ListSweepCandidates(ctx, now, horizon)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to load sweep candidates", zap.Error(err))

		return res, err
	}
	res.Scanned = len(items)

	stores, err := s.uow.Stores().GetByIDs(ctx, storeIDs(items))
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to load store policies", zap.Error(err))

		return res, err
	}

	policies := make(map[uuid.UUID]domain.DiscountPolicy, len(stores))
	for id, store := range stores {
		policies[id] = store.Settings.Policy()
	}

	plan := sweep.Build(items, policies, now, horizon)
	touched := make([]uuid.UUID, 0, len(plan.Discounts)+len(plan.Expirations))

	for _, planned := range plan.Discounts {
		item, applied, err := s.applyDiscount(ctx, planned, now)
		if err != nil {
			res.Failed++
			mylogger.Error(ctx, s.logger, "Failed to discount item",
				zap.String("item_id", planned.Item.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			continue
		}
		res.Discounted++
		touched = append(touched, item.ID)

		store, ok := stores[item.StoreID]
		if !ok {
			store = domain.Store{ID: item.StoreID}
		}

		fanned, err := s.fanout.Notify(ctx, *item, store)
		res.Notified += fanned.Created
		if err != nil {
			res.Failed++
		}
	}

	for _, id := range plan.Expirations {
		status, changed, err := s.uow.Items().Expire(ctx, id, now)
		if err != nil {
			res.Failed++
			mylogger.Error(ctx, s.logger, "Failed to expire item", zap.String("item_id", id.String()), zap.Error(err))
			continue
		}
		if changed {
			res.Expired++
			touched = append(touched, id)
			mylogger.Debug(ctx, s.logger, "Item expired", zap.String("item_id", id.String()), zap.String("status", string(status)))
		}
	}

	if s.items != nil {
		s.items.InvalidateItems(ctx, touched...)
	}

	s.metrics.SweepItems("discounted", res.Discounted)
	s.metrics.SweepItems("expired", res.Expired)
	s.metrics.SweepItems("notified", res.Notified)
	s.metrics.SweepItems("failed", res.Failed)
	s.metrics.SweepDuration(time.Since(started))

	span.SetAttributes(
		attribute.Int("scanned", res.Scanned),
		attribute.Int("discounted", res.Discounted),
		attribute.Int("expired", res.Expired),
		attribute.Int("failed", res.Failed),
	)
	mylogger.Info(ctx, s.logger, "Expiry sweep finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("discounted", res.Discounted),
		zap.Int("expired", res.Expired),
		zap.Int("notified", res.Notified),
		zap.Int("failed", res.Failed),
	)

	return res, nil
}

// applyDiscount writes the discount and its price history row together.
func (s *sweepService) applyDiscount(ctx context.Context, planned sweep.PlannedDiscount, now time.Time) (*domain.CatalogItem, bool, error) {
	var (
		item    *domain.CatalogItem
		applied bool
	)

	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		var err error
		item, applied, err = tx.Items().ApplyDiscount(ctx, planned.Item.ID, planned.Percentage, now)
		if err != nil || !applied {
			return err
		}

		return tx.Items().AddPriceHistory(ctx, &domain.PriceHistory{
			ItemID:             item.ID,
			OriginalPrice:      item.OriginalPrice,
			DiscountedPrice:    item.UnitPrice(),
			DiscountPercentage: item.DiscountPercentage,
			RecordedAt:         now,
		})
	})
	if err != nil {
		return nil, false, err
	}

	return item, applied, nil
}

func (s *sweepService) CleanupNotifications(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "SweepService.CleanupNotifications")
	defer span.End()

	release, err := s.lock(ctx, &s.cleaning, notificationsCleanKey)
	if err != nil {
		return 0, err
	}
	defer release(context.WithoutCancel(ctx))

	deleted, err := s.uow.Notifications().DeleteStale(ctx, now, now.Add(-s.cfg.ReadRetention))
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to clean up notifications", zap.Error(err))

		return 0, err
	}

	mylogger.Info(ctx, s.logger, "Notifications cleaned up", zap.Int64("deleted", deleted))
	return deleted, nil
}

// lock takes the in-process guard and, when configured, the shared one.
func (s *sweepService) lock(ctx context.Context, guard *atomic.Bool, key string) (func(context.Context), error) {
	if !guard.CompareAndSwap(false, true) {
		return nil, domain.ErrSweepInProgress
	}

	if s.locker == nil {
		return func(context.Context) { guard.Store(false) }, nil
	}

	release, ok, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		guard.Store(false)
		return nil, err
	}
	if !ok {
		guard.Store(false)
		return nil, domain.ErrSweepInProgress
	}

	return func(ctx context.Context) {
		release(ctx)
		guard.Store(false)
	}, nil
}

func storeIDs(items []domain.CatalogItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.StoreID]; ok {
			continue
		}
		seen[item.StoreID] = struct{}{}
		ids = append(ids, item.StoreID)
	}

	return ids
}
