package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultBatchSize = 50
	defaultInterval  = 500 * time.Millisecond
	pruneEvery       = time.Hour
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, q db.Querier, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, q db.Querier, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, q db.Querier, eventID int64) error
	MarkEventFailed(ctx context.Context, q db.Querier, eventID int64, errMsg string) error
	PrunePublished(ctx context.Context, q db.Querier, before time.Time) (int64, error)
}

type KafkaProducer interface {
	ProduceKeyed(ctx context.Context, topic, key string, message interface{}) error
}

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	db.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Option func(*OutboxProcessor)

func WithBatchSize(n int) Option {
	return func(p *OutboxProcessor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *OutboxProcessor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRetention deletes published events older than d once an hour.
// Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(p *OutboxProcessor) {
		if d > 0 {
			p.retention = d
		}
	}
}

type OutboxProcessor struct {
	pool      Beginner
	repo      OutboxRepository
	producer  KafkaProducer
	batchSize int
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewOutboxProcessor(
	pool Beginner,
	repo OutboxRepository,
	producer KafkaProducer,
	logger *zap.Logger,
	opts ...Option,
) *OutboxProcessor {
	p := &OutboxProcessor{
		pool:      pool,
		repo:      repo,
		producer:  producer,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    logger,
		tracer:    otel.Tracer("outbox-worker"),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start polls until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(ctx, p.logger, "Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
		zap.Duration("retention", p.retention),
	)

	poll := time.NewTicker(p.interval)
	defer poll.Stop()

	prune := time.NewTicker(pruneEvery)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")
			return
		case <-poll.C:
			if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				mylogger.Error(ctx, p.logger, "Error processing outbox batch", zap.Error(err))
			}
		case <-prune.C:
			if _, err := p.Prune(ctx, time.Now()); err != nil && ctx.Err() == nil {
				mylogger.Warn(ctx, p.logger, "Error pruning outbox", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many
// of them reached Kafka. Rows stay locked until the batch commits, so
// replicas never publish the same event concurrently.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(cleanupCtx, p.logger, "Outbox worker failed to rollback transaction", zap.Error(err))
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	span.SetAttributes(attribute.Int("outbox.batch", len(events)))

	published := 0
	for _, event := range events {
		ok, err := p.publish(ctx, tx, event)
		if err != nil {
			return 0, err
		}
		if ok {
			published++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}

	span.SetAttributes(attribute.Int("outbox.published", published))
	return published, nil
}

// publish reports whether event reached Kafka. The returned error is a
// storage failure that aborts the batch.
func (p *OutboxProcessor) publish(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) (bool, error) {
	fields := []zap.Field{
		zap.Int64("id", event.Id),
		zap.String("event_type", event.EventType),
		zap.String("topic", event.Topic),
	}

	message, err := withEventID(event)
	if err == nil {
		err = p.producer.ProduceKeyed(ctx, event.Topic, event.AggregateID, message)
	}
	if err != nil {
		mylogger.Warn(ctx, p.logger, "Outbox event not published",
			append(fields, zap.Int64("attempts", event.Attempts+1), zap.Error(err))...,
		)

		return false, p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error())
	}

	if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
		mylogger.Error(ctx, p.logger, "Failed to mark outbox event published", append(fields, zap.Error(err))...)
		return false, err
	}

	mylogger.Debug(ctx, p.logger, "Outbox event published", fields...)
	return true, nil
}

// Prune drops published events older than the retention window.
func (p *OutboxProcessor) Prune(ctx context.Context, now time.Time) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}

	deleted, err := p.repo.PrunePublished(ctx, p.pool, now.Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		mylogger.Info(ctx, p.logger, "Pruned published outbox events", zap.Int64("deleted", deleted))
	}

	return deleted, nil
}

// withEventID stamps the outbox id into the envelope so consumers can dedupe on it.
func withEventID(event *domain.OutboxEvent) (map[string]any, error) {
	var envelope map[string]any
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("invalid outbox payload: %w", err)
	}

	envelope["event_id"] = event.Id
	return envelope, nil
}
