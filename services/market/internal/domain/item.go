package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusExpiring ItemStatus = "expiring"
	ItemStatusExpired  ItemStatus = "expired"
	ItemStatusSoldOut  ItemStatus = "sold_out"
	ItemStatusRemoved  ItemStatus = "removed"
)

const (
	// ExpiringWithinDays is the derivation threshold for the expiring status.
	ExpiringWithinDays = 2
	day                = 24 * time.Hour

	// MaxRestock caps a single operator restock.
	MaxRestock int64 = 1_000_000
)

var ErrStockOverflow = NewValidationError("quantity", "quantity would overflow the stock counter")

// CanCredit reports whether adding qty to stock stays representable.
func CanCredit(stock, qty int64) bool {
	return qty <= math.MaxInt64-stock
}

type CatalogItem struct {
	ID                 uuid.UUID           `json:"id"`
	StoreID            uuid.UUID           `json:"store_id"`
	Name               string              `json:"name"`
	Category           string              `json:"category"`
	Unit               string              `json:"unit"`
	OriginalPrice      decimal.Decimal     `json:"original_price"`
	DiscountedPrice    decimal.NullDecimal `json:"discounted_price"`
	DiscountPercentage int                 `json:"discount_percentage"`
	Stock              int64               `json:"stock"`
	ExpiryDate         time.Time           `json:"expiry_date"`
	Status             ItemStatus          `json:"status"`
	IsDiscounted       bool                `json:"is_discounted"`
	OrdersCount        int64               `json:"orders_count"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// DaysUntilExpiry rounds up, so anything expiring later today counts as one day.
func DaysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(float64(expiry.Sub(now)) / float64(day)))
}

// DeriveStatus is the only place an item status is computed. Stock wins over
// expiry: an empty item is sold_out even when it is also past its date.
func DeriveStatus(stock int64, expiry, now time.Time) ItemStatus {
	if stock == 0 {
		return ItemStatusSoldOut
	}

	days := DaysUntilExpiry(expiry, now)
	switch {
	case days <= 0:
		return ItemStatusExpired
	case days <= ExpiringWithinDays:
		return ItemStatusExpiring
	default:
		return ItemStatusActive
	}
}

// Refresh recomputes Status. Removed items are left alone.
func (i *CatalogItem) Refresh(now time.Time) {
	if i.Status == ItemStatusRemoved {
		return
	}

	i.Status = DeriveStatus(i.Stock, i.ExpiryDate, now)
}

// UnitPrice is what a buyer pays right now.
func (i *CatalogItem) UnitPrice() decimal.Decimal {
	if i.IsDiscounted && i.DiscountedPrice.Valid {
		return i.DiscountedPrice.Decimal
	}

	return i.OriginalPrice
}

func (i *CatalogItem) Purchasable() bool {
	return i.Status != ItemStatusRemoved
}

// DiscountedPrice returns original * (1 - pct/100) rounded to cents.
func DiscountedPrice(original decimal.Decimal, percentage int) decimal.Decimal {
	factor := decimal.NewFromInt(int64(100 - percentage)).Div(decimal.NewFromInt(100))
	return original.Mul(factor).Round(2)
}

// Discountable reports whether a discount may still be applied: the item is
// undiscounted, in stock and listed as active or expiring.
func (i *CatalogItem) Discountable() bool {
	if i.IsDiscounted || i.Stock <= 0 {
		return false
	}
	return i.Status == ItemStatusActive || i.Status == ItemStatusExpiring
}

// ApplyDiscount mutates the item in memory; storage layers guard it with
// Discountable.
func (i *CatalogItem) ApplyDiscount(percentage int, now time.Time) {
	i.DiscountedPrice = decimal.NewNullDecimal(DiscountedPrice(i.OriginalPrice, percentage))
	i.DiscountPercentage = percentage
	i.IsDiscounted = true
	i.UpdatedAt = now
	i.Refresh(now)
}

type PriceHistory struct {
	ID                 uuid.UUID       `json:"id"`
	ItemID             uuid.UUID       `json:"item_id"`
	OriginalPrice      decimal.Decimal `json:"original_price"`
	DiscountedPrice    decimal.Decimal `json:"discounted_price"`
	DiscountPercentage int             `json:"discount_percentage"`
	RecordedAt         time.Time       `json:"recorded_at"`
}

type ItemFilter struct {
	StoreID  *uuid.UUID
	Category string
	Status   ItemStatus
	Search   string
	Limit    int64
	Offset   int64
}

// ItemUpdate carries operator edits. Stock is absent: it only moves through
// debit and credit.
type ItemUpdate struct {
	Name          *string
	Category      *string
	Unit          *string
	OriginalPrice *decimal.Decimal
	ExpiryDate    *time.Time
}

func (u ItemUpdate) Empty() bool {
	return u.Name == nil && u.Category == nil && u.Unit == nil && u.OriginalPrice == nil && u.ExpiryDate == nil
}

// Apply writes the edit onto the item. A price change re-prices an active
// discount at the same percentage.
func (u ItemUpdate) Apply(i *CatalogItem, now time.Time) {
	if u.Name != nil {
		i.Name = *u.Name
	}
	if u.Category != nil {
		i.Category = *u.Category
	}
	if u.Unit != nil {
		i.Unit = *u.Unit
	}
	if u.OriginalPrice != nil {
		i.OriginalPrice = *u.OriginalPrice
		if i.IsDiscounted {
			i.DiscountedPrice = decimal.NewNullDecimal(DiscountedPrice(i.OriginalPrice, i.DiscountPercentage))
		}
	}
	if u.ExpiryDate != nil {
		i.ExpiryDate = *u.ExpiryDate
	}

	i.UpdatedAt = now
	i.Refresh(now)
}
