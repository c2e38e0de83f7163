package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultDiscountPercentage = 50
	DefaultMinDiscount        = 20
	DefaultMaxDiscount        = 70
	DefaultAutoDiscountDays   = 2
)

type Store struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Name      string        `json:"name"`
	City      string        `json:"city"`
	IsActive  bool          `json:"is_active"`
	Settings  StoreSettings `json:"settings"`
	Stats     StoreStats    `json:"stats"`
	CreatedAt time.Time     `json:"created_at"`
}

// StoreSettings are per-store knobs. Zero values mean "use the default".
type StoreSettings struct {
	AutoDiscountDays          int `json:"auto_discount_days"`
	DefaultDiscountPercentage int `json:"default_discount_percentage"`
	MinDiscountPercentage     int `json:"min_discount_percentage"`
	MaxDiscountPercentage     int `json:"max_discount_percentage"`
}

type StoreStats struct {
	TotalOrders int64           `json:"total_orders"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type DiscountPolicy struct {
	Default int
	Min     int
	Max     int
}

func (s StoreSettings) Policy() DiscountPolicy {
	p := DiscountPolicy{
		Default: s.DefaultDiscountPercentage,
		Min:     s.MinDiscountPercentage,
		Max:     s.MaxDiscountPercentage,
	}

	if p.Default <= 0 {
		p.Default = DefaultDiscountPercentage
	}
	if p.Min <= 0 {
		p.Min = DefaultMinDiscount
	}
	if p.Max <= 0 || p.Max > 100 {
		p.Max = DefaultMaxDiscount
	}
	if p.Min > p.Max {
		p.Min = p.Max
	}

	return p
}

// Percentage clamps the default into [Min, Max].
func (p DiscountPolicy) Percentage() int {
	switch {
	case p.Default < p.Min:
		return p.Min
	case p.Default > p.Max:
		return p.Max
	default:
		return p.Default
	}
}

// StatsDelta is applied to a store and its items in one call. Negative values reverse a sale.
type StatsDelta struct {
	StoreID     uuid.UUID
	TotalOrders int64
	Revenue     decimal.Decimal
	ItemOrders  map[uuid.UUID]int64
}

// Recipient is a customer who may hear about discounts.
type Recipient struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	City       string    `json:"city"`
	Categories []string  `json:"categories"`
	EmailOptIn bool      `json:"email_opt_in"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
}

// InterestedIn matches on category preference or on living in the store's city.
func (r Recipient) InterestedIn(category, city string) bool {
	if !r.IsActive || !r.IsVerified || !r.EmailOptIn {
		return false
	}

	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}

	return city != "" && r.City == city
}
