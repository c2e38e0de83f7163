package postgres_test

import (
	"errors"
	"sync"
	"time"

	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
)

func (s *PostgresSuite) place(item domain.CatalogItem, qty int64) *domain.Order {
	order, err := s.orders.CreateOrder(s.Ctx, s.buyer, service.CreateOrderInput{
		StoreID: s.shop.ID,
		Lines:   []domain.LineRequest{{ItemID: item.ID, Quantity: qty}},
	})
	s.Require().NoError(err)
	return order
}

func (s *PostgresSuite) TestOrderRoundTrip() {
	item := s.createItem(10, time.Now().Add(10*24*time.Hour))
	order := s.place(item, 3)

	got, err := s.store.Orders().GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(order.OrderNumber, got.OrderNumber)
	s.Require().Len(got.Lines, 1)
	s.Equal(int64(3), got.Lines[0].Quantity)
	s.True(got.TotalAmount.Equal(order.TotalAmount))

	var events int
	err = s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1`, order.ID.String()).Scan(&events)
	s.Require().NoError(err)
	s.Equal(1, events)
}

func (s *PostgresSuite) TestConcurrentConfirmsNeverOversell() {
	item := s.createItem(3, time.Now().Add(10*24*time.Hour))
	first := s.place(item, 2)
	second := s.place(item, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, order := range []*domain.Order{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.orders.TransitionOrder(s.Ctx, s.owner, order.ID, domain.OrderStatusConfirmed, "")
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			s.True(errors.Is(err, domain.ErrInsufficientStock), err.Error())
			failed++
		}
	}
	s.Equal(1, failed)

	got, err := s.store.Items().GetByID(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Stock)
}

func (s *PostgresSuite) TestCrossedLineOrdersConfirmConcurrently() {
	a := s.createItem(100, time.Now().Add(10*24*time.Hour))
	b := s.createItem(100, time.Now().Add(10*24*time.Hour))

	for round := range 5 {
		forward, err := s.orders.CreateOrder(s.Ctx, s.buyer, service.CreateOrderInput{
			StoreID: s.shop.ID,
			Lines:   []domain.LineRequest{{ItemID: a.ID, Quantity: 1}, {ItemID: b.ID, Quantity: 1}},
		})
		s.Require().NoError(err)
		reversed, err := s.orders.CreateOrder(s.Ctx, s.buyer, service.CreateOrderInput{
			StoreID: s.shop.ID,
			Lines:   []domain.LineRequest{{ItemID: b.ID, Quantity: 1}, {ItemID: a.ID, Quantity: 1}},
		})
		s.Require().NoError(err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, order := range []*domain.Order{forward, reversed} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = s.orders.TransitionOrder(s.Ctx, s.owner, order.ID, domain.OrderStatusConfirmed, "")
			}()
		}
		wg.Wait()

		for _, err := range errs {
			s.Require().NoError(err, "round %d", round)
		}
	}

	for _, item := range []domain.CatalogItem{a, b} {
		got, err := s.store.Items().GetByID(s.Ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(int64(90), got.Stock)
	}
}

func (s *PostgresSuite) TestDeadlockIsReportedAsConcurrentTransition() {
	a := s.createItem(10, time.Now().Add(10*24*time.Hour))
	b := s.createItem(10, time.Now().Add(10*24*time.Hour))
	now := time.Now()

	var held sync.WaitGroup
	held.Add(2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]domain.CatalogItem{{a, b}, {b, a}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.store.WithinTx(s.Ctx, func(tx repository.Repos) error {
				if _, err := tx.Items().Debit(s.Ctx, pair[0].ID, 1, now); err != nil {
					held.Done()
					return err
				}
				held.Done()
				held.Wait()

				_, err := tx.Items().Debit(s.Ctx, pair[1].ID, 1, now)
				return err
			})
		}()
	}
	wg.Wait()

	var ok, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConcurrentTransition):
			s.Equal(domain.KindConflict, domain.Kind(err))
			conflicted++
		default:
			s.Fail("unexpected error", err.Error())
		}
	}
	s.Equal(1, ok)
	s.Equal(1, conflicted)

	for _, item := range []domain.CatalogItem{a, b} {
		got, err := s.store.Items().GetByID(s.Ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(int64(9), got.Stock)
	}
}

func (s *PostgresSuite) TestStaleVersionIsRejected() {
	item := s.createItem(3, time.Now().Add(10*24*time.Hour))
	order := s.place(item, 1)

	stale := order.Clone()
	stale.Status = domain.OrderStatusCancelled
	s.Require().NoError(s.store.Orders().UpdateStatus(s.Ctx, stale, order.Version))

	order.Status = domain.OrderStatusConfirmed
	err := s.store.Orders().UpdateStatus(s.Ctx, order, order.Version)
	s.ErrorIs(err, domain.ErrConcurrentTransition)
}

func (s *PostgresSuite) TestCompleteAndReverseSale() {
	item := s.createItem(4, time.Now().Add(10*24*time.Hour))
	order := s.place(item, 2)

	for _, to := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusReady,
		domain.OrderStatusCompleted,
	} {
		_, err := s.orders.TransitionOrder(s.Ctx, s.owner, order.ID, to, "")
		s.Require().NoError(err, "-> %s", to)
	}

	shop, err := s.store.Stores().GetByID(s.Ctx, s.shop.ID)
	s.Require().NoError(err)
	s.Equal("5.00", shop.Stats.Revenue.StringFixed(2))

	_, err = s.orders.TransitionOrder(s.Ctx, s.owner, order.ID, domain.OrderStatusCancelled, "")
	s.Require().NoError(err)

	shop, err = s.store.Stores().GetByID(s.Ctx, s.shop.ID)
	s.Require().NoError(err)
	s.True(shop.Stats.Revenue.IsZero())

	got, err := s.store.Items().GetByID(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(int64(4), got.Stock)
	s.Zero(got.OrdersCount)
}

func (s *PostgresSuite) TestLapseExpired() {
	item := s.createItem(3, time.Now().Add(10*24*time.Hour))
	order := s.place(item, 1)

	lapsed, err := s.store.Orders().LapseExpired(s.Ctx, order.ExpiresAt.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().Len(lapsed, 1)
	s.Equal(order.ID, lapsed[0].ID)

	open, err := s.store.Orders().HasOpenOrdersForItem(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.False(open)
}
