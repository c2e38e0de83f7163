package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultNotificationPage = 20

type NotificationPage struct {
	Items  []domain.Notification `json:"items"`
	Total  int64                 `json:"total"`
	Unread int64                 `json:"unread"`
}

type NotificationService interface {
	ListNotifications(ctx context.Context, actor domain.Actor, limit, offset int64) (*NotificationPage, error)
	MarkRead(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	MarkAllRead(ctx context.Context, actor domain.Actor) (int64, error)
}

type notificationService struct {
	repo   repository.NotificationRepository
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

func NewNotificationService(repo repository.NotificationRepository, logger *zap.Logger, now func() time.Time) NotificationService {
	if now == nil {
		now = time.Now
	}

	return &notificationService{
		repo:   repo,
		now:    now,
		logger: logger,
		tracer: otel.Tracer("notification_service"),
	}
}

func (s *notificationService) ListNotifications(ctx context.Context, actor domain.Actor, limit, offset int64) (*NotificationPage, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.ListNotifications")
	defer span.End()

	if actor.ID == uuid.Nil {
		return nil, domain.ErrForbidden
	}
	if limit <= 0 {
		limit = defaultNotificationPage
	}
	if offset < 0 {
		offset = 0
	}

	span.SetAttributes(
		attribute.String("recipient_id", actor.ID.String()),
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	items, counts, err := s.repo.ListByRecipient(ctx, actor.ID, limit, offset)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to list notifications", zap.Error(err))

		return nil, err
	}

	return &NotificationPage{
		Items:  items,
		Total:  counts.Total,
		Unread: counts.Unread,
	}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.MarkRead")
	defer span.End()

	span.SetAttributes(attribute.String("notification_id", id.String()))

	if actor.ID == uuid.Nil {
		return domain.ErrForbidden
	}

	if err := s.repo.MarkRead(ctx, id, actor.ID, s.now()); err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Failed to mark notification read",
			zap.String("notification_id", id.String()),
			zap.Error(err),
		)

		return err
	}

	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, actor domain.Actor) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "NotificationService.MarkAllRead")
	defer span.End()

	if actor.ID == uuid.Nil {
		return 0, domain.ErrForbidden
	}

	n, err := s.repo.MarkAllRead(ctx, actor.ID, s.now())
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to mark notifications read", zap.Error(err))

		return 0, err
	}

	span.SetAttributes(attribute.Int64("marked", n))
	return n, nil
}
