package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/metrics"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultExternalSampleRate = 0.3
	DefaultNotificationTTL    = 30 * 24 * time.Hour
)

// Sampler decides whether one recipient also gets the external channel.
type Sampler interface {
	Sample() bool
}

type rateSampler struct {
	rate float64
}

func NewRateSampler(rate float64) Sampler {
	return rateSampler{rate: rate}
}

func (s rateSampler) Sample() bool {
	return rand.Float64() < s.rate
}

type SamplerFunc func() bool

func (f SamplerFunc) Sample() bool { return f() }

// ExternalSender forwards a notification outside the app. Errors are reported
// back to the fan-out and never reach the sweep caller.
type ExternalSender interface {
	SendExternal(ctx context.Context, recipient domain.Recipient, n domain.Notification) error
}

type FanoutResult struct {
	Recipients     int
	Created        int
	Duplicates     int
	Failed         int
	ExternalQueued int
	ExternalFailed int
}

type Fanout interface {
	Notify(ctx context.Context, item domain.CatalogItem, store domain.Store) (FanoutResult, error)
}

type fanoutService struct {
	repos   repository.Repos
	sender  ExternalSender
	sampler Sampler
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

type FanoutConfig struct {
	TTL     time.Duration
	Sampler Sampler
	Now     func() time.Time
	Metrics *metrics.Metrics
}

func NewFanoutService(repos repository.Repos, sender ExternalSender, cfg FanoutConfig, logger *zap.Logger) Fanout {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultNotificationTTL
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewRateSampler(DefaultExternalSampleRate)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &fanoutService{
		repos:   repos,
		sender:  sender,
		sampler: cfg.Sampler,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		metrics: cfg.Metrics,
		logger:  logger,
		tracer:  otel.Tracer("fanout_service"),
	}
}

// Notify writes one in-app record per interested recipient and forwards a
// sample of the new ones externally. Only the recipient lookup can fail the
// call; per-recipient failures are logged and counted.
func (s *fanoutService) Notify(ctx context.Context, item domain.CatalogItem, store domain.Store) (FanoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "Fanout.Notify")
	defer span.End()

	span.SetAttributes(
		attribute.String("item_id", item.ID.String()),
		attribute.String("category", item.Category),
		attribute.String("city", store.City),
	)

	var res FanoutResult

	recipients, err := s.repos.Recipients().FindInterested(ctx, item.Category, store.City)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to resolve recipients", zap.String("item_id", item.ID.String()), zap.Error(err))

		return res, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	res.Recipients = len(recipients)

	for _, recipient := range recipients {
		n := domain.NewDiscountNotification(item, store, recipient.ID, s.now(), s.ttl)

		created, err := s.repos.Notifications().Create(ctx, &n)
		s.metrics.Delivery("in_app", err)
		if err != nil {
			res.Failed++
			mylogger.Error(ctx, s.logger, "Failed to create in-app notification",
				zap.String("recipient_id", recipient.ID.String()),
				zap.String("item_id", item.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !created {
			res.Duplicates++
			continue
		}
		res.Created++

		if s.sender == nil || !s.sampler.Sample() {
			continue
		}

		s.sendExternal(ctx, recipient, n, &res)
	}

	span.SetAttributes(
		attribute.Int("created", res.Created),
		attribute.Int("duplicates", res.Duplicates),
		attribute.Int("external_failed", res.ExternalFailed),
	)

	return res, nil
}

func (s *fanoutService) sendExternal(ctx context.Context, recipient domain.Recipient, n domain.Notification, res *FanoutResult) {
	sendErr := s.sender.SendExternal(ctx, recipient, n)
	s.metrics.Delivery("external", sendErr)

	errMsg := ""
	if sendErr != nil {
		res.ExternalFailed++
		errMsg = sendErr.Error()
		mylogger.Warn(ctx, s.logger, "External delivery failed",
			zap.String("recipient_id", recipient.ID.String()),
			zap.String("notification_id", n.ID.String()),
			zap.Error(sendErr),
		)
	} else {
		res.ExternalQueued++
	}

	if err := s.repos.Notifications().MarkEmailQueued(ctx, n.ID, sendErr == nil, errMsg, s.now()); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to record external delivery result",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}
}
