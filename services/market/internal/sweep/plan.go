// Package sweep holds the clock-free half of the expiry sweep: given a
// snapshot of the catalog and the store policies, it decides which items to
// discount and which to expire. Applying the plan is the service's job.
package sweep

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
)

const DefaultHorizon = 2 * 24 * time.Hour

type PlannedDiscount struct {
	Item       domain.CatalogItem
	Percentage int
}

type Plan struct {
	Discounts   []PlannedDiscount
	Expirations []uuid.UUID
}

func (p Plan) Empty() bool {
	return len(p.Discounts) == 0 && len(p.Expirations) == 0
}

// Candidate reports whether the item qualifies for an automatic discount.
func Candidate(item domain.CatalogItem, now time.Time, horizon time.Duration) bool {
	if !item.Discountable() {
		return false
	}

	return item.ExpiryDate.After(now) && !item.ExpiryDate.After(now.Add(horizon))
}

// Stale reports whether the item is past its date but not yet marked. A
// sold out item keeps its status and only needs a leftover discount cleared.
func Stale(item domain.CatalogItem, now time.Time) bool {
	switch item.Status {
	case domain.ItemStatusExpired, domain.ItemStatusRemoved:
		return false
	case domain.ItemStatusSoldOut:
		if !item.IsDiscounted {
			return false
		}
	}

	return !item.ExpiryDate.After(now)
}

// Build plans a sweep. Items whose store has no policy get the package
// default. Output order is stable: by expiry date, then id.
func Build(items []domain.CatalogItem, policies map[uuid.UUID]domain.DiscountPolicy, now time.Time, horizon time.Duration) Plan {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	var plan Plan
	for _, item := range items {
		switch {
		case Candidate(item, now, horizon):
			policy, ok := policies[item.StoreID]
			if !ok {
				policy = domain.StoreSettings{}.Policy()
			}

			plan.Discounts = append(plan.Discounts, PlannedDiscount{
				Item:       item,
				Percentage: policy.Percentage(),
			})
		case Stale(item, now):
			plan.Expirations = append(plan.Expirations, item.ID)
		}
	}

	sort.SliceStable(plan.Discounts, func(i, j int) bool {
		a, b := plan.Discounts[i].Item, plan.Discounts[j].Item
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		return a.ID.String() < b.ID.String()
	})

	return plan
}
