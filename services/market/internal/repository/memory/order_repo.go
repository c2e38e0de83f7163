package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
)

type orderRepo struct{ v *view }

func (r orderRepo) Create(ctx context.Context, order *domain.Order) error {
	return r.v.do(ctx, func(st *state) error {
		if _, taken := st.orderNumbers[order.OrderNumber]; taken {
			return fmt.Errorf("order number %s already used", order.OrderNumber)
		}

		st.orders[order.ID] = *order.Clone()
		st.orderNumbers[order.OrderNumber] = order.ID
		return nil
	})
}

func (r orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var res *domain.Order
	err := r.v.do(ctx, func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		res = order.Clone()
		return nil
	})

	return res, err
}

// GetForUpdate needs no extra locking: a transaction already holds the store mutex.
func (r orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r orderRepo) UpdateStatus(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	return r.v.do(ctx, func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != expectedVersion {
			return domain.ErrConcurrentTransition
		}

		current.Status = order.Status
		current.StoreNotes = order.StoreNotes
		current.UpdatedAt = order.UpdatedAt
		current.Version = expectedVersion + 1
		st.orders[order.ID] = current

		order.Version = current.Version
		return nil
	})
}

func (r orderRepo) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int64, error) {
	var matched []domain.Order
	err := r.v.do(ctx, func(st *state) error {
		for _, order := range st.orders {
			if filter.BuyerID != nil && order.BuyerID != *filter.BuyerID {
				continue
			}
			if filter.StoreID != nil && order.StoreID != *filter.StoreID {
				continue
			}
			if filter.Status != "" && order.Status != filter.Status {
				continue
			}
			if filter.From != nil && order.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !order.CreatedAt.Before(*filter.To) {
				continue
			}
			matched = append(matched, *order.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].OrderNumber > matched[j].OrderNumber
	})

	return page(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (r orderRepo) LapseExpired(ctx context.Context, now time.Time) ([]domain.Order, error) {
	var lapsed []domain.Order
	err := r.v.do(ctx, func(st *state) error {
		for id, order := range st.orders {
			if order.Status != domain.OrderStatusPending || order.ExpiresAt.After(now) {
				continue
			}

			order.Status = domain.OrderStatusExpired
			order.UpdatedAt = now
			order.Version++
			st.orders[id] = order
			lapsed = append(lapsed, *order.Clone())
		}
		return nil
	})

	return lapsed, err
}

func (r orderRepo) HasOpenOrdersForItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	var found bool
	err := r.v.do(ctx, func(st *state) error {
		for _, order := range st.orders {
			if !order.Status.Open() {
				continue
			}
			for _, line := range order.Lines {
				if line.ItemID == itemID {
					found = true
					return nil
				}
			}
		}
		return nil
	})

	return found, err
}
