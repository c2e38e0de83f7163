package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/sweep"
)

type itemRepo struct{ v *view }

func (r itemRepo) Create(ctx context.Context, item *domain.CatalogItem) error {
	return r.v.do(ctx, func(st *state) error {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		st.items[item.ID] = *item
		return nil
	})
}

func (r itemRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error) {
	var res domain.CatalogItem
	err := r.v.do(ctx, func(st *state) error {
		item, ok := st.items[id]
		if !ok {
			return domain.ErrItemNotFound
		}
		res = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

func (r itemRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.CatalogItem, error) {
	res := make(map[uuid.UUID]domain.CatalogItem, len(ids))
	err := r.v.do(ctx, func(st *state) error {
		for _, id := range ids {
			if item, ok := st.items[id]; ok {
				res[id] = item
			}
		}
		return nil
	})

	return res, err
}

func (r itemRepo) List(ctx context.Context, filter domain.ItemFilter) ([]domain.CatalogItem, int64, error) {
	var matched []domain.CatalogItem
	err := r.v.do(ctx, func(st *state) error {
		search := strings.ToLower(filter.Search)
		for _, item := range st.items {
			if filter.StoreID != nil && item.StoreID != *filter.StoreID {
				continue
			}
			if filter.Category != "" && item.Category != filter.Category {
				continue
			}
			if filter.Status != "" && item.Status != filter.Status {
				continue
			}
			if filter.Status == "" && item.Status == domain.ItemStatusRemoved {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
				continue
			}
			matched = append(matched, item)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ExpiryDate.Equal(matched[j].ExpiryDate) {
			return matched[i].ExpiryDate.Before(matched[j].ExpiryDate)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	return page(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (r itemRepo) Save(ctx context.Context, item *domain.CatalogItem) error {
	return r.v.do(ctx, func(st *state) error {
		current, ok := st.items[item.ID]
		if !ok {
			return domain.ErrItemNotFound
		}

		updated := *item
		updated.Stock = current.Stock
		updated.OrdersCount = current.OrdersCount
		st.items[item.ID] = updated
		*item = updated
		return nil
	})
}

func (r itemRepo) Debit(ctx context.Context, id uuid.UUID, qty int64, now time.Time) (*domain.CatalogItem, error) {
	if qty <= 0 {
		return nil, domain.NewValidationError("quantity", "quantity must be positive")
	}

	var res domain.CatalogItem
	err := r.v.do(ctx, func(st *state) error {
		item, ok := st.items[id]
		if !ok {
			return domain.ErrItemNotFound
		}
		if item.Stock < qty {
			return &domain.InsufficientStockError{Line: -1, ItemID: id, Requested: qty, Available: item.Stock}
		}

		item.Stock -= qty
		item.UpdatedAt = now
		item.Refresh(now)
		st.items[id] = item
		res = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

func (r itemRepo) Credit(ctx context.Context, id uuid.UUID, qty int64, now time.Time) (*domain.CatalogItem, error) {
	if qty <= 0 {
		return nil, domain.NewValidationError("quantity", "quantity must be positive")
	}

	var res domain.CatalogItem
	err := r.v.do(ctx, func(st *state) error {
		item, ok := st.items[id]
		if !ok {
			return domain.ErrItemNotFound
		}
		if !domain.CanCredit(item.Stock, qty) {
			return domain.ErrStockOverflow
		}

		item.Stock += qty
		item.UpdatedAt = now
		item.Refresh(now)
		st.items[id] = item
		res = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

func (r itemRepo) ApplyDiscount(ctx context.Context, id uuid.UUID, percentage int, now time.Time) (*domain.CatalogItem, bool, error) {
	var (
		res     domain.CatalogItem
		applied bool
	)
	err := r.v.do(ctx, func(st *state) error {
		item, ok := st.items[id]
		if !ok {
			return domain.ErrItemNotFound
		}

		if item.Discountable() {
			item.ApplyDiscount(percentage, now)
			st.items[id] = item
			applied = true
		}
		res = item
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &res, applied, nil
}

func (r itemRepo) Expire(ctx context.Context, id uuid.UUID, now time.Time) (domain.ItemStatus, bool, error) {
	var (
		status  domain.ItemStatus
		changed bool
	)
	err := r.v.do(ctx, func(st *state) error {
		item, ok := st.items[id]
		if !ok {
			return domain.ErrItemNotFound
		}

		status = item.Status
		if !sweep.Stale(item, now) {
			return nil
		}

		item.IsDiscounted = false
		item.UpdatedAt = now
		item.Refresh(now)
		st.items[id] = item
		status, changed = item.Status, true
		return nil
	})

	return status, changed, err
}

func (r itemRepo) ListSweepCandidates(ctx context.Context, now time.Time, horizon time.Duration) ([]domain.CatalogItem, error) {
	var res []domain.CatalogItem
	err := r.v.do(ctx, func(st *state) error {
		for _, item := range st.items {
			if sweep.Candidate(item, now, horizon) || sweep.Stale(item, now) {
				res = append(res, item)
			}
		}
		return nil
	})

	return res, err
}

func (r itemRepo) AddPriceHistory(ctx context.Context, entry *domain.PriceHistory) error {
	return r.v.do(ctx, func(st *state) error {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		st.priceHistory[entry.ItemID] = append(st.priceHistory[entry.ItemID], *entry)
		return nil
	})
}

func (r itemRepo) ListPriceHistory(ctx context.Context, itemID uuid.UUID) ([]domain.PriceHistory, error) {
	var res []domain.PriceHistory
	err := r.v.do(ctx, func(st *state) error {
		if _, ok := st.items[itemID]; !ok {
			return domain.ErrItemNotFound
		}
		res = append(res, st.priceHistory[itemID]...)
		return nil
	})

	return res, err
}
