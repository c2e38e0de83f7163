package postgres

import (
	"context"
	"errors"
	"fmt"
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

const orderColumns = `id, order_number, buyer_id, store_id, total_amount, total_savings, status,
	notes, store_notes, version, created_at, updated_at, expires_at`

type orderRepo struct {
	q      db.Querier
	logger *zap.Logger
	tracer trace.Tracer
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.BuyerID,
		&o.StoreID,
		&o.TotalAmount,
		&o.TotalSavings,
		&o.Status,
		&o.Notes,
		&o.StoreNotes,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	return &o, nil
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID.String()),
		attribute.String("order_number", order.OrderNumber),
		attribute.Int("lines", len(order.Lines)),
	)

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.q.Exec(
		ctx,
		query,
		order.ID,
		order.OrderNumber,
		order.BuyerID,
		order.StoreID,
		order.TotalAmount,
		order.TotalSavings,
		order.Status,
		order.Notes,
		order.StoreNotes,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
		order.ExpiresAt,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to create order", zap.String("buyer_id", order.BuyerID.String()), zap.Error(err))

		return fmt.Errorf("failed to create order: %w", err)
	}

	linesQuery := `
		INSERT INTO order_lines (order_id, line_no, item_id, item_name, unit, quantity, original_price, discounted_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for idx, line := range order.Lines {
		_, err := r.q.Exec(
			ctx,
			linesQuery,
			order.ID,
			idx,
			line.ItemID,
			line.ItemName,
			line.Unit,
			line.Quantity,
			line.OriginalPrice,
			line.DiscountedPrice,
			line.LineTotal,
		)
		if err != nil {
			span.RecordError(err)
			mylogger.Error(ctx, r.logger, "Failed to insert order line", zap.Int("line", idx), zap.Error(err))

			return fmt.Errorf("failed to insert order line %d: %w", idx, err)
		}
	}

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id.String()))

	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetForUpdate")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id.String()))

	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepo) get(ctx context.Context, query string, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}

		mylogger.Error(ctx, r.logger, "Failed to get order", zap.String("order_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	lines, err := r.linesOf(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[order.ID]

	return order, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID.String()),
		attribute.String("status", string(order.Status)),
		attribute.Int64("expected_version", expectedVersion),
	)

	query := `
		UPDATE orders
		SET status = $2, store_notes = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $5
		RETURNING version
	`

	err := r.q.QueryRow(ctx, query, order.ID, order.Status, order.StoreNotes, order.UpdatedAt, expectedVersion).
		Scan(&order.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			mylogger.Warn(ctx, r.logger, "Order version moved",
				zap.String("order_id", order.ID.String()),
				zap.Int64("expected_version", expectedVersion),
			)
			return domain.ErrConcurrentTransition
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update order status", zap.String("order_id", order.ID.String()), zap.Error(err))

		return fmt.Errorf("failed to update order status: %w", err)
	}

	return nil
}

func (r *orderRepo) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", filter.Limit),
		attribute.Int64("offset", filter.Offset),
	)

	conds := []string{"TRUE"}
	var args []any
	argId := 1

	if filter.BuyerID != nil {
		conds = append(conds, fmt.Sprintf("buyer_id = $%d", argId))
		args = append(args, *filter.BuyerID)
		argId++
	}
	if filter.StoreID != nil {
		conds = append(conds, fmt.Sprintf("store_id = $%d", argId))
		args = append(args, *filter.StoreID)
		argId++
	}
	if filter.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", argId))
		args = append(args, filter.Status)
		argId++
	}
	if filter.From != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argId))
		args = append(args, *filter.From)
		argId++
	}
	if filter.To != nil {
		conds = append(conds, fmt.Sprintf("created_at < $%d", argId))
		args = append(args, *filter.To)
		argId++
	}

	where := " WHERE " + strings.Join(conds, " AND ")

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to count orders", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, order_number DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argId)
		args = append(args, filter.Limit)
		argId++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argId)
		args = append(args, filter.Offset)
	}

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *orderRepo) LapseExpired(ctx context.Context, now time.Time) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.LapseExpired")
	defer span.End()

	query := `
		UPDATE orders
		SET status = 'expired', updated_at = $1, version = version + 1
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING ` + orderColumns

	orders, err := r.queryOrders(ctx, query, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("lapsed", len(orders)))
	return orders, nil
}

func (r *orderRepo) HasOpenOrdersForItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.HasOpenOrdersForItem")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", itemID.String()))

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM order_lines l
			JOIN orders o ON o.id = l.order_id
			WHERE l.item_id = $1 AND o.status IN ('pending', 'confirmed', 'preparing', 'ready')
		)
	`

	var exists bool
	if err := r.q.QueryRow(ctx, query, itemID).Scan(&exists); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to check open orders", zap.String("item_id", itemID.String()), zap.Error(err))

		return false, fmt.Errorf("failed to check open orders: %w", err)
	}

	return exists, nil
}

func (r *orderRepo) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		mylogger.Error(ctx, r.logger, "Error selecting orders", zap.Error(err))
		return nil, fmt.Errorf("error selecting orders: %w", err)
	}

	var (
		orders []domain.Order
		ids    []uuid.UUID
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			mylogger.Error(ctx, r.logger, "Failed to scan rows", zap.Error(err))

			return nil, fmt.Errorf("error scanning rows: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		mylogger.Error(ctx, r.logger, "Rows iteration error", zap.Error(err))
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(ids) == 0 {
		return orders, nil
	}

	lines, err := r.linesOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for idx := range orders {
		orders[idx].Lines = lines[orders[idx].ID]
	}

	return orders, nil
}

func (r *orderRepo) linesOf(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderLine, error) {
	query := `
		SELECT order_id, item_id, item_name, unit, quantity, original_price, discounted_price, line_total
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, line_no
	`

	rows, err := r.q.Query(ctx, query, uuidStrings(orderIDs))
	if err != nil {
		mylogger.Error(ctx, r.logger, "Failed to query order lines", zap.Error(err))
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	res := make(map[uuid.UUID][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID uuid.UUID
			line    domain.OrderLine
		)
		if err := rows.Scan(
			&orderID,
			&line.ItemID,
			&line.ItemName,
			&line.Unit,
			&line.Quantity,
			&line.OriginalPrice,
			&line.DiscountedPrice,
			&line.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("error scanning order line: %w", err)
		}
		res[orderID] = append(res[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order lines iteration error: %w", err)
	}

	return res, nil
}
