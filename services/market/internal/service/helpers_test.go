package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *clock { return &clock{now: at} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type fixture struct {
	store    *memory.Store
	shop     domain.Store
	owner    domain.Actor
	customer domain.Actor
	admin    domain.Actor
}

func newFixture(r *require.Assertions) *fixture {
	f := &fixture{store: memory.NewStore()}

	f.shop = domain.Store{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		Name:     "Corner Market",
		City:     "Lisbon",
		IsActive: true,
	}
	r.NoError(f.store.Stores().Create(context.Background(), &f.shop))

	f.owner = domain.Actor{ID: f.shop.OwnerID, Role: domain.RoleStoreOwner, StoreID: f.shop.ID}
	f.customer = domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	f.admin = domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	return f
}

func (f *fixture) addItem(r *require.Assertions, price string, stock int64, expiry time.Time) domain.CatalogItem {
	item := domain.CatalogItem{
		ID:            uuid.New(),
		StoreID:       f.shop.ID,
		Name:          "Greek Yogurt",
		Category:      "dairy",
		Unit:          "cup",
		OriginalPrice: decimal.RequireFromString(price),
		Stock:         stock,
		ExpiryDate:    expiry,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
	item.Refresh(t0)
	r.NoError(f.store.Items().Create(context.Background(), &item))

	return item
}

func (f *fixture) stock(r *require.Assertions, id uuid.UUID) *domain.CatalogItem {
	item, err := f.store.Items().GetByID(context.Background(), id)
	r.NoError(err)
	return item
}
