package postgres_test

import (
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
)

func (s *PostgresSuite) TestNotificationDedupKeyIsUnique() {
	now := time.Now()
	item := s.createItem(3, now.Add(20*time.Hour))

	recipient := domain.Recipient{
		Email:      "ana@example.com",
		City:       "Lisbon",
		EmailOptIn: true,
		IsActive:   true,
		IsVerified: true,
	}
	s.Require().NoError(s.store.Recipients().Create(s.Ctx, &recipient))

	found, err := s.store.Recipients().FindInterested(s.Ctx, "bakery", "Lisbon")
	s.Require().NoError(err)
	s.Require().Len(found, 1)

	n := domain.NewDiscountNotification(item, s.shop, recipient.ID, now, time.Hour)
	created, err := s.store.Notifications().Create(s.Ctx, &n)
	s.Require().NoError(err)
	s.True(created)

	again := domain.NewDiscountNotification(item, s.shop, recipient.ID, now, time.Hour)
	created, err = s.store.Notifications().Create(s.Ctx, &again)
	s.Require().NoError(err)
	s.False(created)

	s.Require().NoError(s.store.Notifications().MarkEmailQueued(s.Ctx, n.ID, false, "broker unavailable", now))

	items, counts, err := s.store.Notifications().ListByRecipient(s.Ctx, recipient.ID, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(int64(1), counts.Unread)
	s.Equal("broker unavailable", items[0].Channels.Email.Error)
	s.False(items[0].Channels.Email.Queued)
	s.Nil(items[0].Channels.Email.QueuedAt)
	s.Require().NotNil(items[0].Data.ItemID)
	s.Equal(item.ID, *items[0].Data.ItemID)
}

func (s *PostgresSuite) TestNotificationReadAndCleanup() {
	now := time.Now()
	recipient := uuid.New()

	read := domain.Notification{ID: uuid.New(), RecipientID: recipient, Type: domain.NotificationNewDiscount, Priority: domain.PriorityHigh,
		CreatedAt: now.Add(-40 * 24 * time.Hour), ExpiresAt: now.Add(24 * time.Hour)}
	lapsed := domain.Notification{ID: uuid.New(), RecipientID: recipient, Type: domain.NotificationNewDiscount, Priority: domain.PriorityHigh,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	fresh := domain.Notification{ID: uuid.New(), RecipientID: recipient, Type: domain.NotificationNewDiscount, Priority: domain.PriorityHigh,
		CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	for _, n := range []*domain.Notification{&read, &lapsed, &fresh} {
		_, err := s.store.Notifications().Create(s.Ctx, n)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.store.Notifications().MarkRead(s.Ctx, read.ID, recipient, now))
	s.ErrorIs(s.store.Notifications().MarkRead(s.Ctx, fresh.ID, uuid.New(), now), domain.ErrNotificationNotFound)

	deleted, err := s.store.Notifications().DeleteStale(s.Ctx, now, now.Add(-30*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(2), deleted)

	marked, err := s.store.Notifications().MarkAllRead(s.Ctx, recipient, now)
	s.Require().NoError(err)
	s.Equal(int64(1), marked)
}
