package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Events that failed this many times stay in the table for inspection but
// are no longer picked up.
const maxAttempts = 10

const (
	insertEventQuery = `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, headers, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	selectPendingQuery = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, headers, created_at, attempts, topic
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	markPublishedQuery = `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = $1
	`

	markFailedQuery = `
		UPDATE outbox
		SET last_error = $1, attempts = attempts + 1
		WHERE id = $2
	`

	prunePublishedQuery = `
		DELETE FROM outbox
		WHERE published_at IS NOT NULL AND published_at < $1
	`
)

type outboxRepo struct {
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOutboxRepository returns a repository that runs on whatever querier the
// caller passes, so events are written in the caller's business transaction.
func NewOutboxRepository(logger *zap.Logger) worker.OutboxRepository {
	return &outboxRepo{
		tracer: otel.Tracer("pkg/outbox/repository"),
		logger: logger,
	}
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, q db.Querier, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_type", event.AggregateType),
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("topic", event.Topic),
	)

	err := q.QueryRow(ctx, insertEventQuery,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Headers,
		event.Topic,
	).Scan(&event.Id, &event.CreatedAt)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to save outbox event",
			zap.String("event_type", event.EventType),
			zap.String("aggregate_id", event.AggregateID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}

func (r *outboxRepo) GetUnpublishedEvents(ctx context.Context, q db.Querier, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetUnpublishedEvents")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", batchSize))

	rows, err := q.Query(ctx, selectPendingQuery, batchSize, maxAttempts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}

	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read unpublished events: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(events)))
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (*domain.OutboxEvent, error) {
	var e domain.OutboxEvent
	err := row.Scan(
		&e.Id,
		&e.AggregateType,
		&e.AggregateID,
		&e.EventType,
		&e.Payload,
		&e.Headers,
		&e.CreatedAt,
		&e.Attempts,
		&e.Topic,
	)

	return &e, err
}

func (r *outboxRepo) MarkEventPublished(ctx context.Context, q db.Querier, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventPublished")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	if _, err := q.Exec(ctx, markPublishedQuery, eventID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark event %d published: %w", eventID, err)
	}

	return nil
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, q db.Querier, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	if _, err := q.Exec(ctx, markFailedQuery, errMsg, eventID); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to mark outbox event failed", zap.Int64("event_id", eventID), zap.Error(err))

		return fmt.Errorf("failed to mark event %d failed: %w", eventID, err)
	}

	return nil
}

func (r *outboxRepo) PrunePublished(ctx context.Context, q db.Querier, before time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.PrunePublished")
	defer span.End()

	tag, err := q.Exec(ctx, prunePublishedQuery, before)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to prune published events: %w", err)
	}

	span.SetAttributes(attribute.Int64("deleted", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
