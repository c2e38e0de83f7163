package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type recipientRepo struct {
	q      db.Querier
	logger *zap.Logger
	tracer trace.Tracer
}

func (r *recipientRepo) Create(ctx context.Context, recipient *domain.Recipient) error {
	ctx, span := r.tracer.Start(ctx, "RecipientRepository.Create")
	defer span.End()

	if recipient.ID == uuid.Nil {
		recipient.ID = uuid.New()
	}

	query := `
		INSERT INTO customers (id, email, name, city, categories, email_opt_in, is_active, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.Exec(
		ctx,
		query,
		recipient.ID,
		recipient.Email,
		recipient.Name,
		recipient.City,
		recipient.Categories,
		recipient.EmailOptIn,
		recipient.IsActive,
		recipient.IsVerified,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error creating customer", zap.String("email", recipient.Email), zap.Error(err))

		return fmt.Errorf("error creating customer: %w", err)
	}

	return nil
}

func (r *recipientRepo) FindInterested(ctx context.Context, category, city string) ([]domain.Recipient, error) {
	ctx, span := r.tracer.Start(ctx, "RecipientRepository.FindInterested")
	defer span.End()

	span.SetAttributes(
		attribute.String("category", category),
		attribute.String("city", city),
	)

	query := `
		SELECT id, email, name, city, categories, email_opt_in, is_active, is_verified
		FROM customers
		WHERE is_active AND is_verified AND email_opt_in
			AND ($1 = ANY(categories) OR ($2 <> '' AND city = $2))
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, category, city)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query interested customers", zap.Error(err))

		return nil, fmt.Errorf("failed to query interested customers: %w", err)
	}
	defer rows.Close()

	var res []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(
			&rec.ID,
			&rec.Email,
			&rec.Name,
			&rec.City,
			&rec.Categories,
			&rec.EmailOptIn,
			&rec.IsActive,
			&rec.IsVerified,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning customer: %w", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("customers iteration error: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(res)))
	return res, nil
}

const notificationColumns = `id, recipient_id, type, title, message, data, priority, read, read_at,
	email_queued, email_queued_at, email_error, dedup_key, created_at, expires_at`

type notificationRepo struct {
	q      db.Querier
	logger *zap.Logger
	tracer trace.Tracer
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n        domain.Notification
		data     []byte
		dedupKey *string
	)
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Type,
		&n.Title,
		&n.Message,
		&data,
		&n.Priority,
		&n.Channels.InApp.Read,
		&n.Channels.InApp.ReadAt,
		&n.Channels.Email.Queued,
		&n.Channels.Email.QueuedAt,
		&n.Channels.Email.Error,
		&dedupKey,
		&n.CreatedAt,
		&n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
	}
	if dedupKey != nil {
		n.DedupKey = *dedupKey
	}

	return &n, nil
}

func (r *notificationRepo) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("notification_id", n.ID.String()),
		attribute.String("recipient_id", n.RecipientID.String()),
		attribute.String("type", string(n.Type)),
	)

	data, err := json.Marshal(n.Data)
	if err != nil {
		return false, fmt.Errorf("failed to encode notification data: %w", err)
	}

	var dedupKey *string
	if n.DedupKey != "" {
		dedupKey = &n.DedupKey
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	tag, err := r.q.Exec(
		ctx,
		query,
		n.ID,
		n.RecipientID,
		n.Type,
		n.Title,
		n.Message,
		data,
		n.Priority,
		n.Channels.InApp.Read,
		n.Channels.InApp.ReadAt,
		n.Channels.Email.Queued,
		n.Channels.Email.QueuedAt,
		n.Channels.Email.Error,
		dedupKey,
		n.CreatedAt,
		n.ExpiresAt,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to create notification", zap.String("recipient_id", n.RecipientID.String()), zap.Error(err))

		return false, fmt.Errorf("failed to create notification: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *notificationRepo) MarkEmailQueued(ctx context.Context, id uuid.UUID, queued bool, errMsg string, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.MarkEmailQueued")
	defer span.End()

	span.SetAttributes(
		attribute.String("notification_id", id.String()),
		attribute.Bool("queued", queued),
	)

	var queuedAt *time.Time
	if queued {
		queuedAt = &at
	}

	query := `
		UPDATE notifications
		SET email_queued = $2, email_queued_at = $3, email_error = $4
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query, id, queued, queuedAt, errMsg)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to record email result", zap.String("notification_id", id.String()), zap.Error(err))

		return fmt.Errorf("failed to record email result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}

	return nil
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int64) ([]domain.Notification, repository.NotificationCounts, error) {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.ListByRecipient")
	defer span.End()

	span.SetAttributes(
		attribute.String("recipient_id", recipientID.String()),
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	var counts repository.NotificationCounts
	countQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT read)
		FROM notifications
		WHERE recipient_id = $1
	`
	if err := r.q.QueryRow(ctx, countQuery, recipientID).Scan(&counts.Total, &counts.Unread); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to count notifications", zap.Error(err))

		return nil, counts, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`

	if limit <= 0 {
		limit = counts.Total
	}

	rows, err := r.q.Query(ctx, query, recipientID, limit, offset)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to list notifications", zap.Error(err))

		return nil, counts, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	res := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			span.RecordError(err)
			return nil, counts, fmt.Errorf("error scanning notification: %w", err)
		}
		res = append(res, *n)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, counts, fmt.Errorf("notifications iteration error: %w", err)
	}

	return res, counts, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.MarkRead")
	defer span.End()

	span.SetAttributes(attribute.String("notification_id", id.String()))

	query := `
		UPDATE notifications
		SET read = true, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
	`

	tag, err := r.q.Exec(ctx, query, id, recipientID, at)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to mark notification read", zap.String("notification_id", id.String()), zap.Error(err))

		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}

	return nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.MarkAllRead")
	defer span.End()

	span.SetAttributes(attribute.String("recipient_id", recipientID.String()))

	tag, err := r.q.Exec(ctx, `UPDATE notifications SET read = true, read_at = $2 WHERE recipient_id = $1 AND NOT read`, recipientID, at)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to mark notifications read", zap.Error(err))

		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *notificationRepo) DeleteStale(ctx context.Context, now, readBefore time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "NotificationRepository.DeleteStale")
	defer span.End()

	query := `
		DELETE FROM notifications
		WHERE expires_at <= $1 OR (read AND created_at < $2)
	`

	tag, err := r.q.Exec(ctx, query, now, readBefore)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to delete stale notifications", zap.Error(err))

		return 0, fmt.Errorf("failed to delete stale notifications: %w", err)
	}

	span.SetAttributes(attribute.Int64("deleted", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
