package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/freshsave/pkg/domain"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/metrics"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultCancelWindow = 2 * time.Minute
	DefaultOrderTTL     = 24 * time.Hour
	DefaultOrderTopic   = "order_events"
)

type CreateOrderInput struct {
	StoreID uuid.UUID
	Lines   []domain.LineRequest
	Notes   string
}

type OrderService interface {
	CreateOrder(ctx context.Context, actor domain.Actor, input CreateOrderInput) (*domain.Order, error)
	TransitionOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, target domain.OrderStatus, note string) (*domain.Order, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, int64, error)
	LapseOrders(ctx context.Context) (int, error)
}

type OrderConfig struct {
	CancelWindow time.Duration
	TTL          time.Duration
	Topic        string
}

type orderService struct {
	uow     repository.UnitOfWork
	cfg     OrderConfig
	now     func() time.Time
	metrics *metrics.Metrics
	items   ItemInvalidator
	logger  *zap.Logger
	tracer  trace.Tracer
}

type OrderOption func(*orderService)

// WithOrderClock replaces time.Now, mostly for tests.
func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *orderService) {
		s.now = now
	}
}

func WithOrderMetrics(m *metrics.Metrics) OrderOption {
	return func(s *orderService) {
		s.metrics = m
	}
}

// WithOrderItemInvalidator drops cached items whose stock a transition moved.
func WithOrderItemInvalidator(inv ItemInvalidator) OrderOption {
	return func(s *orderService) {
		s.items = inv
	}
}

func NewOrderService(uow repository.UnitOfWork, cfg OrderConfig, logger *zap.Logger, opts ...OrderOption) OrderService {
	if cfg.CancelWindow <= 0 {
		cfg.CancelWindow = DefaultCancelWindow
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultOrderTTL
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultOrderTopic
	}

	s := &orderService{
		uow:    uow,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		tracer: otel.Tracer("order_service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *orderService) CreateOrder(ctx context.Context, actor domain.Actor, input CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("buyer_id", actor.ID.String()),
		attribute.String("store_id", input.StoreID.String()),
		attribute.Int("lines", len(input.Lines)),
	)

	if actor.ID == uuid.Nil {
		return nil, domain.ErrForbidden
	}
	if len(input.Lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	ids := make([]uuid.UUID, 0, len(input.Lines))
	for idx, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("lines[%d].quantity", idx), "quantity must be positive")
		}
		ids = append(ids, line.ItemID)
	}

	now := s.now()
	var order *domain.Order

	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		store, err := tx.Stores().GetByID(ctx, input.StoreID)
		if err != nil {
			return err
		}
		if !store.IsActive {
			return domain.NewValidationError("store_id", "store is not accepting orders")
		}

		found, err := tx.Items().GetByIDs(ctx, ids)
		if err != nil {
			return err
		}

		items := make([]domain.CatalogItem, 0, len(input.Lines))
		for idx, line := range input.Lines {
			item, ok := found[line.ItemID]
			if !ok {
				return fmt.Errorf("line %d: %w", idx, domain.ErrItemNotFound)
			}
			if item.StoreID != input.StoreID {
				return fmt.Errorf("line %d: %w", idx, domain.ErrCrossStoreOrder)
			}
			if !item.Purchasable() {
				return domain.NewValidationError(fmt.Sprintf("lines[%d].item_id", idx), "item is not available")
			}
			items = append(items, item)
		}

		order = domain.NewOrder(actor.ID, input.StoreID, input.Lines, items, input.Notes, now, s.cfg.TTL)
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}

		if err := tx.Stores().RecordOrderStats(ctx, domain.StatsDelta{StoreID: store.ID, TotalOrders: 1}); err != nil {
			return err
		}

		lines := make([]generalDomain.OrderLineEvent, 0, len(order.Lines))
		for _, line := range order.Lines {
			lines = append(lines, generalDomain.OrderLineEvent{ItemID: line.ItemID, Quantity: line.Quantity})
		}

		return s.emitEvent(ctx, tx, order.ID, generalDomain.EventOrderCreated, &generalDomain.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			BuyerID:     order.BuyerID,
			StoreID:     order.StoreID,
			TotalAmount: order.TotalAmount,
			Lines:       lines,
			ExpiresAt:   order.ExpiresAt,
		})
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Failed to create order",
			zap.String("buyer_id", actor.ID.String()),
			zap.String("store_id", input.StoreID.String()),
			zap.Error(err),
		)

		return nil, err
	}

	mylogger.Info(ctx, s.logger, "Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.String()),
	)

	return order, nil
}

func (s *orderService) TransitionOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, target domain.OrderStatus, note string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.TransitionOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("target", string(target)),
		attribute.String("actor_role", string(actor.Role)),
	)

	now := s.now()
	var (
		updated *domain.Order
		from    domain.OrderStatus
		effect  domain.Effect
	)

	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if err := domain.Authorize(actor, order, target, now, s.cfg.CancelWindow); err != nil {
			return err
		}

		effect, err = domain.Transition(order.Status, target)
		if err != nil {
			return err
		}

		if err := s.applyEffect(ctx, tx, order, effect, now); err != nil {
			return err
		}

		expected := order.Version
		order.Status = target
		order.UpdatedAt = now
		if note != "" && actor.OwnsStore(order.StoreID) {
			order.StoreNotes = note
		}
		if err := tx.Orders().UpdateStatus(ctx, order, expected); err != nil {
			return err
		}

		updated = order
		return s.emitEvent(ctx, tx, order.ID, generalDomain.EventOrderStatusChanged, &generalDomain.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			BuyerID:     order.BuyerID,
			StoreID:     order.StoreID,
			From:        string(from),
			To:          string(target),
			TotalAmount: order.TotalAmount,
			ChangedAt:   now,
		})
	})
	s.metrics.Transition(string(from), string(target), err)
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Order transition rejected",
			zap.String("order_id", orderID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.Error(err),
		)

		return nil, err
	}

	if s.items != nil && effect != domain.EffectNone {
		ids := make([]uuid.UUID, 0, len(updated.Lines))
		for _, line := range updated.Lines {
			ids = append(ids, line.ItemID)
		}
		s.items.InvalidateItems(ctx, ids...)
	}

	mylogger.Info(ctx, s.logger, "Order transitioned",
		zap.String("order_id", orderID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)

	return updated, nil
}

// applyEffect runs the ledger and counter side of a transition inside tx.
func (s *orderService) applyEffect(ctx context.Context, tx repository.Repos, order *domain.Order, effect domain.Effect, now time.Time) error {
	switch effect {
	case domain.EffectDebit:
		for _, idx := range lockOrder(order.Lines) {
			line := order.Lines[idx]
			if _, err := tx.Items().Debit(ctx, line.ItemID, line.Quantity, now); err != nil {
				var stockErr *domain.InsufficientStockError
				if errors.As(err, &stockErr) {
					stockErr.Line = idx
					return stockErr
				}
				return fmt.Errorf("line %d: %w", idx, err)
			}
		}
	case domain.EffectCredit:
		return s.creditLines(ctx, tx, order, now)
	case domain.EffectRecordSale:
		return tx.Stores().RecordOrderStats(ctx, saleDelta(order, 1))
	case domain.EffectReverseSale:
		if err := s.creditLines(ctx, tx, order, now); err != nil {
			return err
		}
		return tx.Stores().RecordOrderStats(ctx, saleDelta(order, -1))
	}

	return nil
}

func (s *orderService) creditLines(ctx context.Context, tx repository.Repos, order *domain.Order, now time.Time) error {
	for _, idx := range lockOrder(order.Lines) {
		line := order.Lines[idx]
		if _, err := tx.Items().Credit(ctx, line.ItemID, line.Quantity, now); err != nil {
			return fmt.Errorf("line %d: %w", idx, err)
		}
	}

	return nil
}

// lockOrder returns the line indexes sorted by item id. Stock rows are always
// touched in this order, so two orders sharing items lock them the same way.
func lockOrder(lines []domain.OrderLine) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return bytes.Compare(lines[a].ItemID[:], lines[b].ItemID[:])
	})

	return order
}

// saleDelta moves revenue by the order total and each distinct item's order
// counter by one, in the direction of sign.
func saleDelta(order *domain.Order, sign int64) domain.StatsDelta {
	delta := domain.StatsDelta{
		StoreID:    order.StoreID,
		Revenue:    order.TotalAmount,
		ItemOrders: make(map[uuid.UUID]int64, len(order.Lines)),
	}
	if sign < 0 {
		delta.Revenue = order.TotalAmount.Neg()
	}
	for _, line := range order.Lines {
		delta.ItemOrders[line.ItemID] = sign
	}

	return delta
}

func (s *orderService) CancelOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	return s.TransitionOrder(ctx, actor, orderID, domain.OrderStatusCancelled, "")
}

func (s *orderService) GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	order, err := s.uow.Orders().GetByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !actor.CanView(order) {
		return nil, domain.ErrForbidden
	}

	return order, nil
}

// ListOrders narrows the filter to what the actor may see: customers get their
// own orders, store owners their store's, admins anything.
func (s *orderService) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, int64, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleStoreOwner:
		if filter.StoreID != nil && *filter.StoreID != actor.StoreID {
			return nil, 0, domain.ErrForbidden
		}
		storeID := actor.StoreID
		filter.StoreID = &storeID
	default:
		if filter.BuyerID != nil && *filter.BuyerID != actor.ID {
			return nil, 0, domain.ErrForbidden
		}
		buyerID := actor.ID
		filter.BuyerID = &buyerID
	}

	orders, total, err := s.uow.Orders().List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to list orders", zap.Error(err))

		return nil, 0, err
	}

	span.SetAttributes(attribute.Int64("total", total))
	return orders, total, nil
}

// LapseOrders expires pending orders that outlived their TTL. The update is
// guarded by status = pending, so an explicit transition that won the race is
// left alone.
func (s *orderService) LapseOrders(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.LapseOrders")
	defer span.End()

	now := s.now()
	var lapsed []domain.Order

	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		var err error
		lapsed, err = tx.Orders().LapseExpired(ctx, now)
		if err != nil {
			return err
		}

		for _, order := range lapsed {
			err := s.emitEvent(ctx, tx, order.ID, generalDomain.EventOrderStatusChanged, &generalDomain.OrderStatusChangedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				StoreID:     order.StoreID,
				From:        string(domain.OrderStatusPending),
				To:          string(domain.OrderStatusExpired),
				TotalAmount: order.TotalAmount,
				ChangedAt:   now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to lapse orders", zap.Error(err))

		return 0, err
	}

	s.metrics.OrdersLapsed(len(lapsed))
	if len(lapsed) > 0 {
		mylogger.Info(ctx, s.logger, "Lapsed pending orders", zap.Int("count", len(lapsed)))
	}

	return len(lapsed), nil
}

func (s *orderService) emitEvent(ctx context.Context, tx repository.Repos, orderID uuid.UUID, eventType string, payload any) error {
	event, err := outboxDomain.NewEvent(s.cfg.Topic, "Order", orderID.String(), eventType, payload)
	if err != nil {
		return err
	}

	if err := tx.Outbox().Save(ctx, event); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to save outbox event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)

		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}
