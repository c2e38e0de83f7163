package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const itemColumns = `id, store_id, name, category, unit, original_price, discounted_price,
	discount_percentage, stock, expiry_date, status, is_discounted, orders_count, created_at, updated_at`

type itemRepo struct {
	q      db.Querier
	logger *zap.Logger
	tracer trace.Tracer
}

func scanItem(row pgx.Row) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := row.Scan(
		&item.ID,
		&item.StoreID,
		&item.Name,
		&item.Category,
		&item.Unit,
		&item.OriginalPrice,
		&item.DiscountedPrice,
		&item.DiscountPercentage,
		&item.Stock,
		&item.ExpiryDate,
		&item.Status,
		&item.IsDiscounted,
		&item.OrdersCount,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &item, nil
}

func (r *itemRepo) Create(ctx context.Context, item *domain.CatalogItem) error {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.Create")
	defer span.End()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	span.SetAttributes(
		attribute.String("item_id", item.ID.String()),
		attribute.String("store_id", item.StoreID.String()),
	)

	query := `
		INSERT INTO catalog_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.q.Exec(
		ctx,
		query,
		item.ID,
		item.StoreID,
		item.Name,
		item.Category,
		item.Unit,
		item.OriginalPrice,
		item.DiscountedPrice,
		item.DiscountPercentage,
		item.Stock,
		item.ExpiryDate,
		item.Status,
		item.IsDiscounted,
		item.OrdersCount,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error creating item", zap.String("name", item.Name), zap.Error(err))

		return fmt.Errorf("error creating item: %w", err)
	}

	return nil
}

func (r *itemRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id.String()))

	query := `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = $1`

	item, err := scanItem(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error get item by id", zap.String("item_id", id.String()), zap.Error(err))

		return nil, fmt.Errorf("error getting item: %w", err)
	}

	return item, nil
}

func (r *itemRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.GetByIDs")
	defer span.End()

	span.SetAttributes(attribute.Int("count", len(ids)))

	query := `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = ANY($1::uuid[])`

	items, err := r.queryItems(ctx, query, uuidStrings(ids))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := make(map[uuid.UUID]domain.CatalogItem, len(items))
	for _, item := range items {
		res[item.ID] = item
	}

	return res, nil
}

func (r *itemRepo) List(ctx context.Context, filter domain.ItemFilter) ([]domain.CatalogItem, int64, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", filter.Limit),
		attribute.Int64("offset", filter.Offset),
		attribute.String("search", filter.Search),
	)

	var (
		conds []string
		args  []any
	)
	argId := 1

	if filter.StoreID != nil {
		conds = append(conds, fmt.Sprintf("store_id = $%d", argId))
		args = append(args, *filter.StoreID)
		argId++
	}
	if filter.Category != "" {
		conds = append(conds, fmt.Sprintf("category = $%d", argId))
		args = append(args, filter.Category)
		argId++
	}
	if filter.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", argId))
		args = append(args, filter.Status)
		argId++
	} else {
		conds = append(conds, "status <> 'removed'")
	}
	if filter.Search != "" {
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", argId))
		args = append(args, "%"+filter.Search+"%")
		argId++
	}

	where := " WHERE " + strings.Join(conds, " AND ")

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_items`+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to count items", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	query := `SELECT ` + itemColumns + ` FROM catalog_items` + where + ` ORDER BY expiry_date ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argId)
		args = append(args, filter.Limit)
		argId++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argId)
		args = append(args, filter.Offset)
	}

	items, err := r.queryItems(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	return items, total, nil
}

func (r *itemRepo) Save(ctx context.Context, item *domain.CatalogItem) error {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.Save")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", item.ID.String()))

	query := `
		UPDATE catalog_items
		SET name = $2, category = $3, unit = $4, original_price = $5, discounted_price = $6,
			discount_percentage = $7, expiry_date = $8, status = $9, is_discounted = $10, updated_at = $11
		WHERE id = $1
		RETURNING ` + itemColumns

	saved, err := scanItem(r.q.QueryRow(
		ctx,
		query,
		item.ID,
		item.Name,
		item.Category,
		item.Unit,
		item.OriginalPrice,
		item.DiscountedPrice,
		item.DiscountPercentage,
		item.ExpiryDate,
		item.Status,
		item.IsDiscounted,
		item.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to save item", zap.String("item_id", item.ID.String()), zap.Error(err))

		return fmt.Errorf("error saving item: %w", err)
	}

	*item = *saved
	return nil
}

func (r *itemRepo) Debit(ctx context.Context, id uuid.UUID, qty int64, now time.Time) (*domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.Debit")
	defer span.End()

	span.SetAttributes(
		attribute.String("item_id", id.String()),
		attribute.Int64("quantity", qty),
	)

	if qty <= 0 {
		return nil, domain.NewValidationError("quantity", "quantity must be positive")
	}

	query := `
		UPDATE catalog_items
		SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2
		RETURNING ` + itemColumns

	item, err := scanItem(r.q.QueryRow(ctx, query, id, qty, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.debitFailure(ctx, id, qty)
		}

		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Error decreasing stock",
			zap.String("item_id", id.String()),
			zap.Int64("quantity", qty),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error decreasing stock for item %s: %w", id, err)
	}

	if err := r.refreshStatus(ctx, item, now); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return item, nil
}

// debitFailure tells a missing item apart from a short one.
func (r *itemRepo) debitFailure(ctx context.Context, id uuid.UUID, qty int64) error {
	var available int64
	err := r.q.QueryRow(ctx, `SELECT stock FROM catalog_items WHERE id = $1`, id).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		return fmt.Errorf("error reading stock for item %s: %w", id, err)
	}

	return &domain.InsufficientStockError{Line: -1, ItemID: id, Requested: qty, Available: available}
}

func (r *itemRepo) Credit(ctx context.Context, id uuid.UUID, qty int64, now time.Time) (*domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.Credit")
	defer span.End()

	span.SetAttributes(
		attribute.String("item_id", id.String()),
		attribute.Int64("quantity", qty),
	)

	if qty <= 0 {
		return nil, domain.NewValidationError("quantity", "quantity must be positive")
	}

	query := `
		UPDATE catalog_items
		SET stock = stock + $2, updated_at = $3
		WHERE id = $1 AND stock <= $4 - $2
		RETURNING ` + itemColumns

	item, err := scanItem(r.q.QueryRow(ctx, query, id, qty, now, int64(math.MaxInt64)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.creditFailure(ctx, id)
		}

		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to increase stock", zap.Error(err))

		return nil, fmt.Errorf("error increasing stock for item %s: %w", id, err)
	}

	if err := r.refreshStatus(ctx, item, now); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return item, nil
}

// creditFailure tells a missing item apart from one whose counter would overflow.
func (r *itemRepo) creditFailure(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("error reading item %s: %w", id, err)
	}
	if !exists {
		mylogger.Warn(ctx, r.logger, "Item not found", zap.String("item_id", id.String()))
		return domain.ErrItemNotFound
	}

	return domain.ErrStockOverflow
}

func (r *itemRepo) ApplyDiscount(ctx context.Context, id uuid.UUID, percentage int, now time.Time) (*domain.CatalogItem, bool, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.ApplyDiscount")
	defer span.End()

	span.SetAttributes(
		attribute.String("item_id", id.String()),
		attribute.Int("percentage", percentage),
	)

	query := `
		UPDATE catalog_items
		SET discounted_price = ROUND(original_price * (100 - $2) / 100.0, 2),
			discount_percentage = $2,
			is_discounted = true,
			updated_at = $3
		WHERE id = $1
			AND is_discounted = false
			AND stock > 0
			AND status IN ('active', 'expiring')
		RETURNING ` + itemColumns

	item, err := scanItem(r.q.QueryRow(ctx, query, id, percentage, now))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			span.RecordError(err)
			mylogger.Error(ctx, r.logger, "Failed to apply discount", zap.String("item_id", id.String()), zap.Error(err))

			return nil, false, fmt.Errorf("error applying discount to item %s: %w", id, err)
		}

		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	if err := r.refreshStatus(ctx, item, now); err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	return item, true, nil
}

func (r *itemRepo) Expire(ctx context.Context, id uuid.UUID, now time.Time) (domain.ItemStatus, bool, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.Expire")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id.String()))

	query := `
		UPDATE catalog_items
		SET status = CASE WHEN stock = 0 THEN 'sold_out' ELSE 'expired' END,
			is_discounted = false,
			updated_at = $2
		WHERE id = $1
			AND expiry_date <= $2
			AND status NOT IN ('expired', 'removed')
			AND NOT (status = 'sold_out' AND is_discounted = false)
		RETURNING status
	`

	var status domain.ItemStatus
	err := r.q.QueryRow(ctx, query, id, now).Scan(&status)
	if err == nil {
		return status, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to expire item", zap.String("item_id", id.String()), zap.Error(err))

		return "", false, fmt.Errorf("error expiring item %s: %w", id, err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return "", false, err
	}

	return current.Status, false, nil
}

func (r *itemRepo) ListSweepCandidates(ctx context.Context, now time.Time, horizon time.Duration) ([]domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.ListSweepCandidates")
	defer span.End()

	query := `
		SELECT ` + itemColumns + `
		FROM catalog_items
		WHERE (is_discounted = false
				AND stock > 0
				AND status IN ('active', 'expiring')
				AND expiry_date > $1
				AND expiry_date <= $2)
			OR (expiry_date <= $1
				AND status NOT IN ('expired', 'removed')
				AND NOT (status = 'sold_out' AND is_discounted = false))
		ORDER BY expiry_date ASC, id ASC
	`

	items, err := r.queryItems(ctx, query, now, now.Add(horizon))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(items)))
	return items, nil
}

func (r *itemRepo) AddPriceHistory(ctx context.Context, entry *domain.PriceHistory) error {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.AddPriceHistory")
	defer span.End()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO price_history (id, item_id, original_price, discounted_price, discount_percentage, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.q.Exec(
		ctx,
		query,
		entry.ID,
		entry.ItemID,
		entry.OriginalPrice,
		entry.DiscountedPrice,
		entry.DiscountPercentage,
		entry.RecordedAt,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to write price history", zap.String("item_id", entry.ItemID.String()), zap.Error(err))

		return fmt.Errorf("error writing price history: %w", err)
	}

	return nil
}

func (r *itemRepo) ListPriceHistory(ctx context.Context, itemID uuid.UUID) ([]domain.PriceHistory, error) {
	ctx, span := r.tracer.Start(ctx, "ItemRepository.ListPriceHistory")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", itemID.String()))

	if _, err := r.GetByID(ctx, itemID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, item_id, original_price, discounted_price, discount_percentage, recorded_at
		FROM price_history
		WHERE item_id = $1
		ORDER BY recorded_at ASC
	`

	rows, err := r.q.Query(ctx, query, itemID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error selecting price history: %w", err)
	}
	defer rows.Close()

	var res []domain.PriceHistory
	for rows.Next() {
		var h domain.PriceHistory
		if err := rows.Scan(&h.ID, &h.ItemID, &h.OriginalPrice, &h.DiscountedPrice, &h.DiscountPercentage, &h.RecordedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning price history: %w", err)
		}
		res = append(res, h)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("price history rows iteration error: %w", err)
	}

	return res, nil
}

// refreshStatus re-derives the status after a stock or price change and
// writes it back only when it moved.
func (r *itemRepo) refreshStatus(ctx context.Context, item *domain.CatalogItem, now time.Time) error {
	before := item.Status
	item.Refresh(now)
	if item.Status == before {
		return nil
	}

	_, err := r.q.Exec(ctx, `UPDATE catalog_items SET status = $2 WHERE id = $1`, item.ID, item.Status)
	if err != nil {
		mylogger.Error(ctx, r.logger, "Failed to update item status", zap.String("item_id", item.ID.String()), zap.Error(err))
		return fmt.Errorf("error updating status of item %s: %w", item.ID, err)
	}

	return nil
}

func (r *itemRepo) queryItems(ctx context.Context, query string, args ...any) ([]domain.CatalogItem, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		mylogger.Error(ctx, r.logger, "Error selecting items", zap.Error(err))
		return nil, fmt.Errorf("error selecting items: %w", err)
	}
	defer rows.Close()

	var items []domain.CatalogItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			mylogger.Error(ctx, r.logger, "Failed to scan rows", zap.Error(err))
			return nil, fmt.Errorf("error scanning rows: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		mylogger.Error(ctx, r.logger, "Rows iteration error", zap.Error(err))
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}
