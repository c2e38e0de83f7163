package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CreateItemInput struct {
	StoreID       uuid.UUID
	Name          string
	Category      string
	Unit          string
	OriginalPrice decimal.Decimal
	Stock         int64
	ExpiryDate    time.Time
}

type CatalogService interface {
	CreateItem(ctx context.Context, actor domain.Actor, input CreateItemInput) (*domain.CatalogItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error)
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.CatalogItem, int64, error)
	UpdateItem(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.ItemUpdate) (*domain.CatalogItem, error)
	Restock(ctx context.Context, actor domain.Actor, id uuid.UUID, qty int64) (*domain.CatalogItem, error)
	RemoveItem(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	PriceHistory(ctx context.Context, id uuid.UUID) ([]domain.PriceHistory, error)
}

// ItemInvalidator drops cached copies of items whose state changed outside
// the catalog service.
type ItemInvalidator interface {
	InvalidateItems(ctx context.Context, ids ...uuid.UUID)
}

type catalogService struct {
	uow    repository.UnitOfWork
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCatalogService(uow repository.UnitOfWork, logger *zap.Logger, now func() time.Time) CatalogService {
	if now == nil {
		now = time.Now
	}

	return &catalogService{
		uow:    uow,
		now:    now,
		logger: logger,
		tracer: otel.Tracer("catalog_service"),
	}
}

func (s *catalogService) CreateItem(ctx context.Context, actor domain.Actor, input CreateItemInput) (*domain.CatalogItem, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.CreateItem")
	defer span.End()

	span.SetAttributes(
		attribute.String("store_id", input.StoreID.String()),
		attribute.String("name", input.Name),
	)

	if !actor.OwnsStore(input.StoreID) {
		return nil, domain.ErrForbidden
	}

	now := s.now()
	if err := validateItemInput(input, now); err != nil {
		return nil, err
	}

	if _, err := s.uow.Stores().GetByID(ctx, input.StoreID); err != nil {
		return nil, err
	}

	unit := input.Unit
	if unit == "" {
		unit = "piece"
	}

	item := &domain.CatalogItem{
		ID:            uuid.New(),
		StoreID:       input.StoreID,
		Name:          strings.TrimSpace(input.Name),
		Category:      input.Category,
		Unit:          unit,
		OriginalPrice: input.OriginalPrice,
		Stock:         input.Stock,
		ExpiryDate:    input.ExpiryDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	item.Refresh(now)

	if err := s.uow.Items().Create(ctx, item); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to create item", zap.Error(err))

		return nil, err
	}

	mylogger.Info(ctx, s.logger, "Item created",
		zap.String("item_id", item.ID.String()),
		zap.String("status", string(item.Status)),
	)

	return item, nil
}

func validateItemInput(input CreateItemInput, now time.Time) error {
	fields := make(map[string]string)

	if strings.TrimSpace(input.Name) == "" {
		fields["name"] = "name is required"
	}
	if input.Category == "" {
		fields["category"] = "category is required"
	}
	if !input.OriginalPrice.IsPositive() {
		fields["original_price"] = "price must be positive"
	}
	if input.Stock < 0 {
		fields["stock"] = "stock must not be negative"
	}
	if !input.ExpiryDate.After(now) {
		fields["expiry_date"] = "expiry date must be in the future"
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}

	return nil
}

func (s *catalogService) GetItem(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.GetItem")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id.String()))

	return s.uow.Items().GetByID(ctx, id)
}

func (s *catalogService) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.CatalogItem, int64, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.ListItems")
	defer span.End()

	items, total, err := s.uow.Items().List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to list items", zap.Error(err))

		return nil, 0, err
	}

	return items, total, nil
}

func (s *catalogService) UpdateItem(ctx context.Context, actor domain.Actor, id uuid.UUID, update domain.ItemUpdate) (*domain.CatalogItem, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.UpdateItem")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id.String()))

	if update.Empty() {
		return nil, domain.NewValidationError("body", "nothing to update")
	}
	if update.OriginalPrice != nil && !update.OriginalPrice.IsPositive() {
		return nil, domain.NewValidationError("original_price", "price must be positive")
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, domain.NewValidationError("name", "name must not be empty")
	}

	now := s.now()
	var item *domain.CatalogItem

	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		current, err := tx.Items().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.OwnsStore(current.StoreID) {
			return domain.ErrForbidden
		}
		if current.Status == domain.ItemStatusRemoved {
			return domain.NewValidationError("id", "item has been removed")
		}

		update.Apply(current, now)
		if err := tx.Items().Save(ctx, current); err != nil {
			return err
		}

		item = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Failed to update item", zap.String("item_id", id.String()), zap.Error(err))

		return nil, err
	}

	return item, nil
}

func (s *catalogService) Restock(ctx context.Context, actor domain.Actor, id uuid.UUID, qty int64) (*domain.CatalogItem, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.Restock")
	defer span.End()

	span.SetAttributes(
		attribute.String("item_id", id.String()),
		attribute.Int64("quantity", qty),
	)

	if qty <= 0 || qty > domain.MaxRestock {
		return nil, domain.NewValidationError("quantity", fmt.Sprintf("quantity must be between 1 and %d", domain.MaxRestock))
	}

	var item *domain.CatalogItem
	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		current, err := tx.Items().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.OwnsStore(current.StoreID) {
			return domain.ErrForbidden
		}

		item, err = tx.Items().Credit(ctx, id, qty, s.now())
		return err
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Failed to restock item", zap.String("item_id", id.String()), zap.Error(err))

		return nil, err
	}

	return item, nil
}

// RemoveItem hides the item from the catalog. Items still referenced by an
// open order stay in place.
func (s *catalogService) RemoveItem(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "CatalogService.RemoveItem")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id.String()))

	err := s.uow.WithinTx(ctx, func(tx repository.Repos) error {
		item, err := tx.Items().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.OwnsStore(item.StoreID) {
			return domain.ErrForbidden
		}
		if item.Status == domain.ItemStatusRemoved {
			return nil
		}

		inUse, err := tx.Orders().HasOpenOrdersForItem(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return domain.ErrItemInUse
		}

		item.Status = domain.ItemStatusRemoved
		item.UpdatedAt = s.now()
		return tx.Items().Save(ctx, item)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Failed to remove item", zap.String("item_id", id.String()), zap.Error(err))

		return err
	}

	mylogger.Info(ctx, s.logger, "Item removed", zap.String("item_id", id.String()))
	return nil
}

func (s *catalogService) PriceHistory(ctx context.Context, id uuid.UUID) ([]domain.PriceHistory, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.PriceHistory")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id.String()))

	return s.uow.Items().ListPriceHistory(ctx, id)
}
