package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TxStarter is satisfied by *pgxpool.Pool.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}

const claimEventQuery = `
	INSERT INTO processed_events (event_id)
	VALUES ($1)
	ON CONFLICT (event_id) DO NOTHING
`

// ProcessWithDeduplication runs action at most once per eventID. The claim in
// processed_events is committed only after action succeeds, so a failed
// delivery is retried when the message is redelivered. Concurrent consumers of
// the same id block on the claim row until the first one finishes.
func ProcessWithDeduplication(
	ctx context.Context,
	starter TxStarter,
	logger *zap.Logger,
	eventID string,
	policy RetryPolicy,
	action func() error,
) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("dedup.event_id", eventID))

	tx, err := starter.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin dedup tx: %w", err)
	}
	defer rollback(ctx, tx, logger)

	tag, err := tx.Exec(ctx, claimEventQuery, eventID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		mylogger.Info(ctx, logger, "Event already processed, skipping", zap.String("event_id", eventID))
		return nil
	}

	if err := retry(ctx, policy, action); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, logger, "Failed to process event after retries",
			zap.String("event_id", eventID),
			zap.Int("attempts", policy.Attempts),
			zap.Error(err),
		)

		return fmt.Errorf("failed to process event %s: %w", eventID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, logger, "Failed to commit processed event", zap.String("event_id", eventID), zap.Error(err))

		return fmt.Errorf("failed to commit processed event: %w", err)
	}

	return nil
}

func retry(ctx context.Context, policy RetryPolicy, action func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = action(); err == nil {
			return nil
		}
		if attempt == policy.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(policy.Delay):
		}
	}

	return err
}

func rollback(ctx context.Context, tx pgx.Tx, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Error(ctx, logger, "Error rolling back dedup transaction", zap.Error(err))
	}
}
