// Package memory is an in-process implementation of the market repositories.
// A single mutex serializes transactions; each transaction works on a copy of
// the state that replaces the live one only when fn returns nil.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	outboxDomain "github.com/sakashimaa/freshsave/pkg/outbox/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
)

type state struct {
	items         map[uuid.UUID]domain.CatalogItem
	priceHistory  map[uuid.UUID][]domain.PriceHistory
	orders        map[uuid.UUID]domain.Order
	orderNumbers  map[string]uuid.UUID
	stores        map[uuid.UUID]domain.Store
	recipients    map[uuid.UUID]domain.Recipient
	notifications map[uuid.UUID]domain.Notification
	dedupKeys     map[string]uuid.UUID
	outbox        []outboxDomain.OutboxEvent
	outboxSeq     int64
}

func newState() *state {
	return &state{
		items:         make(map[uuid.UUID]domain.CatalogItem),
		priceHistory:  make(map[uuid.UUID][]domain.PriceHistory),
		orders:        make(map[uuid.UUID]domain.Order),
		orderNumbers:  make(map[string]uuid.UUID),
		stores:        make(map[uuid.UUID]domain.Store),
		recipients:    make(map[uuid.UUID]domain.Recipient),
		notifications: make(map[uuid.UUID]domain.Notification),
		dedupKeys:     make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := newState()

	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.priceHistory {
		c.priceHistory[k] = append([]domain.PriceHistory(nil), v...)
	}
	for k, v := range s.orders {
		v.Lines = append([]domain.OrderLine(nil), v.Lines...)
		c.orders[k] = v
	}
	for k, v := range s.orderNumbers {
		c.orderNumbers[k] = v
	}
	for k, v := range s.stores {
		c.stores[k] = v
	}
	for k, v := range s.recipients {
		v.Categories = append([]string(nil), v.Categories...)
		c.recipients[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	for k, v := range s.dedupKeys {
		c.dedupKeys[k] = v
	}
	c.outbox = append([]outboxDomain.OutboxEvent(nil), s.outbox...)
	c.outboxSeq = s.outboxSeq

	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.UnitOfWork = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.st = work
	return nil
}

func (s *Store) Items() repository.ItemRepository                 { return itemRepo{s.direct()} }
func (s *Store) Orders() repository.OrderRepository               { return orderRepo{s.direct()} }
func (s *Store) Stores() repository.StoreRepository               { return storeRepo{s.direct()} }
func (s *Store) Recipients() repository.RecipientRepository       { return recipientRepo{s.direct()} }
func (s *Store) Notifications() repository.NotificationRepository { return notificationRepo{s.direct()} }
func (s *Store) Outbox() repository.OutboxWriter                  { return outboxRepo{s.direct()} }

// OutboxEvents returns every event written so far, oldest first.
func (s *Store) OutboxEvents() []outboxDomain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]outboxDomain.OutboxEvent(nil), s.st.outbox...)
}

func (s *Store) direct() *view {
	return &view{store: s}
}

// view is either bound to a transaction's working copy or, outside a
// transaction, locks the store for the duration of each call.
type view struct {
	store *Store
	tx    *state
}

func (v *view) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if v.tx != nil {
		return fn(v.tx)
	}

	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	return fn(v.store.st)
}

func (v *view) Items() repository.ItemRepository                 { return itemRepo{v} }
func (v *view) Orders() repository.OrderRepository               { return orderRepo{v} }
func (v *view) Stores() repository.StoreRepository               { return storeRepo{v} }
func (v *view) Recipients() repository.RecipientRepository       { return recipientRepo{v} }
func (v *view) Notifications() repository.NotificationRepository { return notificationRepo{v} }
func (v *view) Outbox() repository.OutboxWriter                  { return outboxRepo{v} }

type outboxRepo struct{ v *view }

func (r outboxRepo) Save(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	return r.v.do(ctx, func(st *state) error {
		st.outboxSeq++
		event.Id = st.outboxSeq
		st.outbox = append(st.outbox, *event)
		return nil
	})
}

func page[T any](list []T, limit, offset int64) []T {
	if offset >= int64(len(list)) {
		return []T{}
	}
	if offset > 0 {
		list = list[offset:]
	}
	if limit > 0 && limit < int64(len(list)) {
		list = list[:limit]
	}

	return list
}
