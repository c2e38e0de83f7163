package service

import (
	"context"

	sharedDomain "github.com/sakashimaa/freshsave/pkg/domain"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/freshsave/pkg/outbox/utils"
	"github.com/sakashimaa/freshsave/services/notification/internal/domain"
	"github.com/sakashimaa/freshsave/services/notification/internal/infrastructure/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deduplicator runs action at most once per event id.
type Deduplicator interface {
	Process(ctx context.Context, eventID string, action func() error) error
}

type pgDeduplicator struct {
	pool   outboxUtils.TxStarter
	policy outboxUtils.RetryPolicy
	logger *zap.Logger
}

func NewPostgresDeduplicator(pool outboxUtils.TxStarter, logger *zap.Logger) Deduplicator {
	return &pgDeduplicator{
		pool:   pool,
		policy: outboxUtils.DefaultRetryPolicy,
		logger: logger,
	}
}

func (d *pgDeduplicator) Process(ctx context.Context, eventID string, action func() error) error {
	return outboxUtils.ProcessWithDeduplication(ctx, d.pool, d.logger, eventID, d.policy, action)
}

type NotificationService struct {
	emailSender email.Sender
	dedup       Deduplicator
	baseURL     string
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewNotificationService(emailSender email.Sender, dedup Deduplicator, baseURL string, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		emailSender: emailSender,
		dedup:       dedup,
		baseURL:     baseURL,
		logger:      logger,
		tracer:      otel.Tracer("notification-service"),
	}
}

// HandleDiscountAlert emails one discount alert. Events without an address
// or id cannot be delivered and are dropped.
func (s *NotificationService) HandleDiscountAlert(ctx context.Context, event sharedDomain.DiscountAlertEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleDiscountAlert")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", event.EventID),
		attribute.String("recipient_id", event.RecipientID.String()),
	)

	if event.EventID == "" || event.RecipientEmail == "" {
		mylogger.Warn(ctx, s.logger, "Dropping undeliverable discount alert",
			zap.String("event_id", event.EventID),
			zap.String("recipient_id", event.RecipientID.String()),
		)

		return nil
	}

	msg := domain.DiscountAlertEmail(event, s.baseURL)

	return s.dedup.Process(ctx, event.EventID, func() error {
		return s.emailSender.Send(ctx, msg)
	})
}
