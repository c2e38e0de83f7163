package postgres_test

import (
	"context"
	"time"

	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/infrastructure/redislock"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type countingSender struct {
	sent int
}

func (c *countingSender) SendExternal(context.Context, domain.Recipient, domain.Notification) error {
	c.sent++
	return nil
}

func (s *PostgresSuite) TestSweepDiscountsNotifiesAndInvalidatesOnce() {
	now := time.Now()
	item := s.createItem(4, now.Add(36*time.Hour))
	later := s.createItem(4, now.Add(10*24*time.Hour))

	recipient := domain.Recipient{
		Email:      "eva@example.com",
		Name:       "Eva",
		City:       "Porto",
		Categories: []string{"dairy"},
		EmailOptIn: true,
		IsActive:   true,
		IsVerified: true,
	}
	s.Require().NoError(s.store.Recipients().Create(s.Ctx, &recipient))

	catalog := service.NewCachedCatalogService(service.NewCatalogService(s.store, zap.NewNop(), nil), s.Redis, time.Minute, zap.NewNop())
	cached, err := catalog.GetItem(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Require().False(cached.IsDiscounted)

	sender := &countingSender{}
	fanout := service.NewFanoutService(s.store, sender, service.FanoutConfig{
		Sampler: service.SamplerFunc(func() bool { return true }),
	}, zap.NewNop())
	sweep := service.NewSweepService(s.store, fanout, service.SweepConfig{}, zap.NewNop(),
		service.WithSweepLocker(redislock.NewLock(s.Redis, zap.NewNop())),
		service.WithSweepItemInvalidator(catalog),
	)

	res, err := sweep.RunExpirySweep(s.Ctx, 48*time.Hour, now)
	s.Require().NoError(err)
	s.Require().Equal(1, res.Discounted)
	s.Require().Equal(1, res.Notified)
	s.Require().Equal(1, sender.sent)

	fresh, err := catalog.GetItem(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Require().True(fresh.IsDiscounted)
	s.Require().Equal(domain.ItemStatusExpiring, fresh.Status)
	s.Require().True(fresh.DiscountedPrice.Decimal.Equal(decimal.RequireFromString("1.25")))

	untouched, err := s.store.Items().GetByID(s.Ctx, later.ID)
	s.Require().NoError(err)
	s.Require().False(untouched.IsDiscounted)

	history, err := catalog.PriceHistory(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Require().Equal(50, history[0].DiscountPercentage)

	res, err = sweep.RunExpirySweep(s.Ctx, 48*time.Hour, now)
	s.Require().NoError(err)
	s.Require().Zero(res.Discounted)
	s.Require().Zero(res.Notified)

	inbox, counts, err := s.store.Notifications().ListByRecipient(s.Ctx, recipient.ID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(inbox, 1)
	s.Require().Equal(int64(1), counts.Unread)
	s.Require().True(inbox[0].Channels.Email.Queued)

	locked, err := s.Redis.Exists(s.Ctx, "freshsave:sweep:expiry").Result()
	s.Require().NoError(err)
	s.Require().Zero(locked)
}
