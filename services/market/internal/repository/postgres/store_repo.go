package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const storeColumns = `id, owner_id, name, city, is_active, auto_discount_days, default_discount_percentage,
	min_discount_percentage, max_discount_percentage, total_orders, revenue, created_at`

type storeRepo struct {
	q      db.Querier
	logger *zap.Logger
	tracer trace.Tracer
}

func scanStore(row pgx.Row) (*domain.Store, error) {
	var s domain.Store
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Name,
		&s.City,
		&s.IsActive,
		&s.Settings.AutoDiscountDays,
		&s.Settings.DefaultDiscountPercentage,
		&s.Settings.MinDiscountPercentage,
		&s.Settings.MaxDiscountPercentage,
		&s.Stats.TotalOrders,
		&s.Stats.Revenue,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (r *storeRepo) Create(ctx context.Context, store *domain.Store) error {
	ctx, span := r.tracer.Start(ctx, "StoreRepository.Create")
	defer span.End()

	if store.ID == uuid.Nil {
		store.ID = uuid.New()
	}

	span.SetAttributes(attribute.String("store_id", store.ID.String()))

	query := `
		INSERT INTO stores (` + storeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.Exec(
		ctx,
		query,
		store.ID,
		store.OwnerID,
		store.Name,
		store.City,
		store.IsActive,
		store.Settings.AutoDiscountDays,
		store.Settings.DefaultDiscountPercentage,
		store.Settings.MinDiscountPercentage,
		store.Settings.MaxDiscountPercentage,
		store.Stats.TotalOrders,
		store.Stats.Revenue,
		store.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error creating store", zap.String("name", store.Name), zap.Error(err))

		return fmt.Errorf("error creating store: %w", err)
	}

	return nil
}

func (r *storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Store, error) {
	ctx, span := r.tracer.Start(ctx, "StoreRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("store_id", id.String()))

	store, err := scanStore(r.q.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStoreNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error get store by id", zap.String("store_id", id.String()), zap.Error(err))

		return nil, fmt.Errorf("error getting store: %w", err)
	}

	return store, nil
}

func (r *storeRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Store, error) {
	ctx, span := r.tracer.Start(ctx, "StoreRepository.GetByIDs")
	defer span.End()

	span.SetAttributes(attribute.Int("count", len(ids)))

	rows, err := r.q.Query(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error selecting stores", zap.Error(err))

		return nil, fmt.Errorf("error selecting stores: %w", err)
	}
	defer rows.Close()

	res := make(map[uuid.UUID]domain.Store, len(ids))
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning store: %w", err)
		}
		res[store.ID] = *store
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("stores iteration error: %w", err)
	}

	return res, nil
}

func (r *storeRepo) GetDiscountPolicy(ctx context.Context, id uuid.UUID) (domain.DiscountPolicy, error) {
	store, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.DiscountPolicy{}, err
	}

	return store.Settings.Policy(), nil
}

func (r *storeRepo) RecordOrderStats(ctx context.Context, delta domain.StatsDelta) error {
	ctx, span := r.tracer.Start(ctx, "StoreRepository.RecordOrderStats")
	defer span.End()

	span.SetAttributes(
		attribute.String("store_id", delta.StoreID.String()),
		attribute.Int64("total_orders", delta.TotalOrders),
		attribute.String("revenue", delta.Revenue.String()),
	)

	query := `
		UPDATE stores
		SET total_orders = total_orders + $2, revenue = revenue + $3
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query, delta.StoreID, delta.TotalOrders, delta.Revenue)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update store stats", zap.String("store_id", delta.StoreID.String()), zap.Error(err))

		return fmt.Errorf("failed to update store stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStoreNotFound
	}

	itemIDs := slices.SortedFunc(maps.Keys(delta.ItemOrders), func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	for _, itemID := range itemIDs {
		tag, err := r.q.Exec(ctx, `UPDATE catalog_items SET orders_count = orders_count + $2 WHERE id = $1`, itemID, delta.ItemOrders[itemID])
		if err != nil {
			span.RecordError(err)
			mylogger.Error(ctx, r.logger, "Failed to update item orders count", zap.String("item_id", itemID.String()), zap.Error(err))

			return fmt.Errorf("failed to update item orders count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrItemNotFound
		}
	}

	return nil
}
