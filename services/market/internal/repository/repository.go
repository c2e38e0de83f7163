// Package repository declares the storage contracts of the market service.
// postgres/ is the production implementation; memory/ backs local runs and tests.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
)

// ItemRepository is the inventory ledger. Stock only moves through Debit and
// Credit; Save never writes it.
type ItemRepository interface {
	Create(ctx context.Context, item *domain.CatalogItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CatalogItem, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.CatalogItem, error)
	List(ctx context.Context, filter domain.ItemFilter) ([]domain.CatalogItem, int64, error)
	Save(ctx context.Context, item *domain.CatalogItem) error

	// Debit is a single conditional decrement. It fails with an
	// *domain.InsufficientStockError when stock < qty.
	Debit(ctx context.Context, id uuid.UUID, qty int64, now time.Time) (*domain.CatalogItem, error)
	Credit(ctx context.Context, id uuid.UUID, qty int64, now time.Time) (*domain.CatalogItem, error)

	// ApplyDiscount only touches items that are not discounted yet; applied
	// is false when another run got there first.
	ApplyDiscount(ctx context.Context, id uuid.UUID, percentage int, now time.Time) (item *domain.CatalogItem, applied bool, err error)
	// Expire re-derives the status of an item past its date and clears the
	// discount flag. changed is false when the item was already handled.
	Expire(ctx context.Context, id uuid.UUID, now time.Time) (status domain.ItemStatus, changed bool, err error)
	ListSweepCandidates(ctx context.Context, now time.Time, horizon time.Duration) ([]domain.CatalogItem, error)

	AddPriceHistory(ctx context.Context, entry *domain.PriceHistory) error
	ListPriceHistory(ctx context.Context, itemID uuid.UUID) ([]domain.PriceHistory, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// GetForUpdate locks the order row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// UpdateStatus writes status and notes when the stored version still
	// equals expectedVersion, then bumps the version.
	UpdateStatus(ctx context.Context, order *domain.Order, expectedVersion int64) error
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int64, error)
	// LapseExpired moves pending orders past expiresAt to expired.
	LapseExpired(ctx context.Context, now time.Time) ([]domain.Order, error)
	HasOpenOrdersForItem(ctx context.Context, itemID uuid.UUID) (bool, error)
}

type StoreRepository interface {
	Create(ctx context.Context, store *domain.Store) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Store, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Store, error)
	GetDiscountPolicy(ctx context.Context, id uuid.UUID) (domain.DiscountPolicy, error)
	// RecordOrderStats moves the store counters and the per-item order
	// counters named in delta together.
	RecordOrderStats(ctx context.Context, delta domain.StatsDelta) error
}

type RecipientRepository interface {
	Create(ctx context.Context, recipient *domain.Recipient) error
	FindInterested(ctx context.Context, category, city string) ([]domain.Recipient, error)
}

type NotificationRepository interface {
	// Create returns false when a record with the same dedup key exists.
	Create(ctx context.Context, n *domain.Notification) (bool, error)
	MarkEmailQueued(ctx context.Context, id uuid.UUID, queued bool, errMsg string, at time.Time) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int64) ([]domain.Notification, NotificationCounts, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error)
	// DeleteStale drops records past their TTL and read records older than readBefore.
	DeleteStale(ctx context.Context, now, readBefore time.Time) (int64, error)
}

type NotificationCounts struct {
	Total  int64
	Unread int64
}

type OutboxWriter interface {
	Save(ctx context.Context, event *outboxDomain.OutboxEvent) error
}

type Repos interface {
	Items() ItemRepository
	Orders() OrderRepository
	Stores() StoreRepository
	Recipients() RecipientRepository
	Notifications() NotificationRepository
	Outbox() OutboxWriter
}

// UnitOfWork runs fn in one transaction: every write made through tx commits
// together or not at all. Repos used outside WithinTx auto-commit per call.
type UnitOfWork interface {
	Repos
	WithinTx(ctx context.Context, fn func(tx Repos) error) error
}
