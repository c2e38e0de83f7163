package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
)

type storeRepo struct{ v *view }

func (r storeRepo) Create(ctx context.Context, store *domain.Store) error {
	return r.v.do(ctx, func(st *state) error {
		if store.ID == uuid.Nil {
			store.ID = uuid.New()
		}
		st.stores[store.ID] = *store
		return nil
	})
}

func (r storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Store, error) {
	var res domain.Store
	err := r.v.do(ctx, func(st *state) error {
		store, ok := st.stores[id]
		if !ok {
			return domain.ErrStoreNotFound
		}
		res = store
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

func (r storeRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Store, error) {
	res := make(map[uuid.UUID]domain.Store, len(ids))
	err := r.v.do(ctx, func(st *state) error {
		for _, id := range ids {
			if store, ok := st.stores[id]; ok {
				res[id] = store
			}
		}
		return nil
	})

	return res, err
}

func (r storeRepo) GetDiscountPolicy(ctx context.Context, id uuid.UUID) (domain.DiscountPolicy, error) {
	store, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.DiscountPolicy{}, err
	}

	return store.Settings.Policy(), nil
}

func (r storeRepo) RecordOrderStats(ctx context.Context, delta domain.StatsDelta) error {
	return r.v.do(ctx, func(st *state) error {
		store, ok := st.stores[delta.StoreID]
		if !ok {
			return domain.ErrStoreNotFound
		}

		for itemID := range delta.ItemOrders {
			if _, ok := st.items[itemID]; !ok {
				return domain.ErrItemNotFound
			}
		}

		store.Stats.TotalOrders += delta.TotalOrders
		store.Stats.Revenue = store.Stats.Revenue.Add(delta.Revenue)
		st.stores[delta.StoreID] = store

		for itemID, n := range delta.ItemOrders {
			item := st.items[itemID]
			item.OrdersCount += n
			st.items[itemID] = item
		}
		return nil
	})
}

type recipientRepo struct{ v *view }

func (r recipientRepo) Create(ctx context.Context, recipient *domain.Recipient) error {
	return r.v.do(ctx, func(st *state) error {
		if recipient.ID == uuid.Nil {
			recipient.ID = uuid.New()
		}
		st.recipients[recipient.ID] = *recipient
		return nil
	})
}

func (r recipientRepo) FindInterested(ctx context.Context, category, city string) ([]domain.Recipient, error) {
	var res []domain.Recipient
	err := r.v.do(ctx, func(st *state) error {
		for _, rec := range st.recipients {
			if rec.InterestedIn(category, city) {
				res = append(res, rec)
			}
		}
		return nil
	})

	sort.Slice(res, func(i, j int) bool { return res[i].ID.String() < res[j].ID.String() })
	return res, err
}

type notificationRepo struct{ v *view }

func (r notificationRepo) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	var created bool
	err := r.v.do(ctx, func(st *state) error {
		if n.DedupKey != "" {
			if _, dup := st.dedupKeys[n.DedupKey]; dup {
				return nil
			}
			st.dedupKeys[n.DedupKey] = n.ID
		}

		st.notifications[n.ID] = *n
		created = true
		return nil
	})

	return created, err
}

func (r notificationRepo) MarkEmailQueued(ctx context.Context, id uuid.UUID, queued bool, errMsg string, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		n, ok := st.notifications[id]
		if !ok {
			return domain.ErrNotificationNotFound
		}

		n.Channels.Email.Queued = queued
		n.Channels.Email.Error = errMsg
		if queued {
			n.Channels.Email.QueuedAt = &at
		}
		st.notifications[id] = n
		return nil
	})
}

func (r notificationRepo) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int64) ([]domain.Notification, repository.NotificationCounts, error) {
	var (
		matched []domain.Notification
		counts  repository.NotificationCounts
	)
	err := r.v.do(ctx, func(st *state) error {
		for _, n := range st.notifications {
			if n.RecipientID != recipientID {
				continue
			}
			matched = append(matched, n)
			if !n.Channels.InApp.Read {
				counts.Unread++
			}
		}
		return nil
	})
	if err != nil {
		return nil, counts, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	counts.Total = int64(len(matched))

	return page(matched, limit, offset), counts, nil
}

func (r notificationRepo) MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		n, ok := st.notifications[id]
		if !ok || n.RecipientID != recipientID {
			return domain.ErrNotificationNotFound
		}

		if !n.Channels.InApp.Read {
			n.Channels.InApp.Read = true
			n.Channels.InApp.ReadAt = &at
			st.notifications[id] = n
		}
		return nil
	})
}

func (r notificationRepo) MarkAllRead(ctx context.Context, recipientID uuid.UUID, at time.Time) (int64, error) {
	var updated int64
	err := r.v.do(ctx, func(st *state) error {
		for id, n := range st.notifications {
			if n.RecipientID != recipientID || n.Channels.InApp.Read {
				continue
			}
			n.Channels.InApp.Read = true
			n.Channels.InApp.ReadAt = &at
			st.notifications[id] = n
			updated++
		}
		return nil
	})

	return updated, err
}

func (r notificationRepo) DeleteStale(ctx context.Context, now, readBefore time.Time) (int64, error) {
	var deleted int64
	err := r.v.do(ctx, func(st *state) error {
		for id, n := range st.notifications {
			expired := !n.ExpiresAt.IsZero() && !n.ExpiresAt.After(now)
			oldRead := n.Channels.InApp.Read && n.CreatedAt.Before(readBefore)
			if !expired && !oldRead {
				continue
			}

			delete(st.notifications, id)
			if n.DedupKey != "" {
				delete(st.dedupKeys, n.DedupKey)
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}
