package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/freshsave/pkg/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type OrderServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *clock
	f       *fixture
	service service.OrderService
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = newClock(t0)
	s.f = newFixture(s.Require())
	s.service = service.NewOrderService(s.f.store, service.OrderConfig{}, zap.NewNop(),
		service.WithOrderClock(s.clock.Now),
	)
}

func (s *OrderServiceSuite) place(lines ...domain.LineRequest) *domain.Order {
	order, err := s.service.CreateOrder(s.ctx, s.f.customer, service.CreateOrderInput{
		StoreID: s.f.shop.ID,
		Lines:   lines,
	})
	s.Require().NoError(err)
	return order
}

func (s *OrderServiceSuite) advance(order *domain.Order, path ...domain.OrderStatus) *domain.Order {
	for _, to := range path {
		var err error
		order, err = s.service.TransitionOrder(s.ctx, s.f.owner, order.ID, to, "")
		s.Require().NoError(err, "-> %s", to)
	}
	return order
}

func (s *OrderServiceSuite) TestConfirmDebitsStock() {
	item := s.f.addItem(s.Require(), "3.00", 10, t0.Add(10*24*time.Hour))

	order := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 3})
	s.Equal(domain.OrderStatusPending, order.Status)
	s.Equal(int64(10), s.f.stock(s.Require(), item.ID).Stock, "pending orders do not reserve stock")

	order = s.advance(order, domain.OrderStatusConfirmed)
	s.Equal(domain.OrderStatusConfirmed, order.Status)
	s.Equal(int64(2), order.Version)

	got := s.f.stock(s.Require(), item.ID)
	s.Equal(int64(7), got.Stock)
	s.Equal(domain.ItemStatusActive, got.Status)
}

func (s *OrderServiceSuite) TestConcurrentConfirmsNeverOversell() {
	item := s.f.addItem(s.Require(), "3.00", 3, t0.Add(10*24*time.Hour))

	a := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 2})
	b := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 2})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, order := range []*domain.Order{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.TransitionOrder(s.ctx, s.f.owner, order.ID, domain.OrderStatusConfirmed, "")
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			short++
			var stockErr *domain.InsufficientStockError
			s.Require().ErrorAs(err, &stockErr)
			s.Equal(0, stockErr.Line)
			s.Equal(int64(1), stockErr.Available)
		}
	}
	s.Equal(1, ok)
	s.Equal(1, short)
	s.Equal(int64(1), s.f.stock(s.Require(), item.ID).Stock)
}

func (s *OrderServiceSuite) TestFailedDebitLeavesEveryLineUntouched() {
	for scarceLine := range 2 {
		plenty := s.f.addItem(s.Require(), "1.00", 10, t0.Add(10*24*time.Hour))
		scarce := s.f.addItem(s.Require(), "1.00", 1, t0.Add(10*24*time.Hour))

		lines := []domain.LineRequest{
			{ItemID: plenty.ID, Quantity: 4},
			{ItemID: scarce.ID, Quantity: 2},
		}
		if scarceLine == 0 {
			lines[0], lines[1] = lines[1], lines[0]
		}
		order := s.place(lines...)

		_, err := s.service.TransitionOrder(s.ctx, s.f.owner, order.ID, domain.OrderStatusConfirmed, "")
		var stockErr *domain.InsufficientStockError
		s.Require().ErrorAs(err, &stockErr)
		s.Equal(scarceLine, stockErr.Line)
		s.Equal(scarce.ID, stockErr.ItemID)

		s.Equal(int64(10), s.f.stock(s.Require(), plenty.ID).Stock)
		s.Equal(int64(1), s.f.stock(s.Require(), scarce.ID).Stock)

		got, err := s.service.GetOrder(s.ctx, s.f.owner, order.ID)
		s.Require().NoError(err)
		s.Equal(domain.OrderStatusPending, got.Status)
		s.Equal(int64(1), got.Version)
	}
}

func (s *OrderServiceSuite) TestBuyerCancelWindow() {
	item := s.f.addItem(s.Require(), "3.00", 5, t0.Add(10*24*time.Hour))

	late := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1})
	s.clock.Set(t0.Add(3 * time.Minute))
	_, err := s.service.CancelOrder(s.ctx, s.f.customer, late.ID)
	s.Require().ErrorIs(err, domain.ErrCancelWindowExpired)

	s.clock.Set(t0)
	onTime := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1})
	s.clock.Set(t0.Add(90 * time.Second))
	cancelled, err := s.service.CancelOrder(s.ctx, s.f.customer, onTime.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Equal(int64(5), s.f.stock(s.Require(), item.ID).Stock)
}

func (s *OrderServiceSuite) TestBuyerCannotCancelConfirmedOrder() {
	item := s.f.addItem(s.Require(), "3.00", 5, t0.Add(10*24*time.Hour))
	order := s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1}), domain.OrderStatusConfirmed)

	_, err := s.service.CancelOrder(s.ctx, s.f.customer, order.ID)
	var transitionErr *domain.TransitionError
	s.Require().ErrorAs(err, &transitionErr)
	s.Equal(domain.OrderStatusConfirmed, transitionErr.From)
	s.Equal(domain.OrderStatusCancelled, transitionErr.To)
	s.Equal(domain.KindConflict, domain.Kind(err))
	s.Equal(int64(4), s.f.stock(s.Require(), item.ID).Stock)
}

func (s *OrderServiceSuite) TestOwnerCancelCreditsStock() {
	item := s.f.addItem(s.Require(), "3.00", 5, t0.Add(10*24*time.Hour))
	order := s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 5}),
		domain.OrderStatusConfirmed, domain.OrderStatusPreparing)
	s.Equal(domain.ItemStatusSoldOut, s.f.stock(s.Require(), item.ID).Status)

	order = s.advance(order, domain.OrderStatusCancelled)
	s.Equal(domain.OrderStatusCancelled, order.Status)

	got := s.f.stock(s.Require(), item.ID)
	s.Equal(int64(5), got.Stock)
	s.Equal(domain.ItemStatusActive, got.Status)
}

func (s *OrderServiceSuite) TestReversingCompletedSale() {
	item := s.f.addItem(s.Require(), "2.50", 4, t0.Add(10*24*time.Hour))
	order := s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 2}),
		domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusCompleted)

	shop, err := s.f.store.Stores().GetByID(s.ctx, s.f.shop.ID)
	s.Require().NoError(err)
	s.Equal("5.00", shop.Stats.Revenue.StringFixed(2))
	s.Equal(int64(1), s.f.stock(s.Require(), item.ID).OrdersCount)
	s.Equal(int64(2), s.f.stock(s.Require(), item.ID).Stock)

	order = s.advance(order, domain.OrderStatusCancelled)
	s.Equal(domain.OrderStatusCancelled, order.Status)

	shop, err = s.f.store.Stores().GetByID(s.ctx, s.f.shop.ID)
	s.Require().NoError(err)
	s.True(shop.Stats.Revenue.IsZero())

	got := s.f.stock(s.Require(), item.ID)
	s.Equal(int64(4), got.Stock)
	s.Zero(got.OrdersCount)
}

func (s *OrderServiceSuite) TestStockIsConserved() {
	item := s.f.addItem(s.Require(), "1.00", 20, t0.Add(10*24*time.Hour))

	held := s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 3}), domain.OrderStatusConfirmed)
	s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 4}), domain.OrderStatusConfirmed, domain.OrderStatusCancelled)
	s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 5}),
		domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusCompleted)
	s.place(domain.LineRequest{ItemID: item.ID, Quantity: 6})

	// 20 initial, 3 held by a confirmed order, 5 sold, the rest back on the shelf
	s.Equal(int64(20-held.Lines[0].Quantity-5), s.f.stock(s.Require(), item.ID).Stock)
}

func (s *OrderServiceSuite) TestInvalidTransitionLeavesOrderUnchanged() {
	item := s.f.addItem(s.Require(), "1.00", 5, t0.Add(10*24*time.Hour))
	order := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1})

	_, err := s.service.TransitionOrder(s.ctx, s.f.owner, order.ID, domain.OrderStatusReady, "")
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	got, err := s.service.GetOrder(s.ctx, s.f.customer, order.ID)
	s.Require().NoError(err)
	s.Equal(order.Status, got.Status)
	s.Equal(order.Version, got.Version)
	s.Equal(int64(5), s.f.stock(s.Require(), item.ID).Stock)
}

func (s *OrderServiceSuite) TestTransitionsWriteOutboxEvents() {
	item := s.f.addItem(s.Require(), "1.00", 5, t0.Add(10*24*time.Hour))
	s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1}), domain.OrderStatusConfirmed)

	events := s.f.store.OutboxEvents()
	s.Require().Len(events, 2)
	s.Equal(generalDomain.EventOrderCreated, events[0].EventType)
	s.Equal(generalDomain.EventOrderStatusChanged, events[1].EventType)
	s.Equal(service.DefaultOrderTopic, events[1].Topic)
}

func (s *OrderServiceSuite) TestCreateOrderValidation() {
	item := s.f.addItem(s.Require(), "1.00", 5, t0.Add(10*24*time.Hour))

	_, err := s.service.CreateOrder(s.ctx, s.f.customer, service.CreateOrderInput{StoreID: s.f.shop.ID})
	s.ErrorIs(err, domain.ErrEmptyOrder)

	_, err = s.service.CreateOrder(s.ctx, s.f.customer, service.CreateOrderInput{
		StoreID: s.f.shop.ID,
		Lines:   []domain.LineRequest{{ItemID: item.ID, Quantity: 0}},
	})
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.service.CreateOrder(s.ctx, s.f.customer, service.CreateOrderInput{
		StoreID: s.f.shop.ID,
		Lines:   []domain.LineRequest{{ItemID: uuid.New(), Quantity: 1}},
	})
	s.ErrorIs(err, domain.ErrItemNotFound)

	other := domain.Store{ID: uuid.New(), Name: "Elsewhere", IsActive: true}
	s.Require().NoError(s.f.store.Stores().Create(s.ctx, &other))
	_, err = s.service.CreateOrder(s.ctx, s.f.customer, service.CreateOrderInput{
		StoreID: other.ID,
		Lines:   []domain.LineRequest{{ItemID: item.ID, Quantity: 1}},
	})
	s.ErrorIs(err, domain.ErrCrossStoreOrder)

	s.Empty(s.f.store.OutboxEvents())
}

func (s *OrderServiceSuite) TestOrderAccessIsScoped() {
	item := s.f.addItem(s.Require(), "1.00", 5, t0.Add(10*24*time.Hour))
	order := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1})

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	_, err := s.service.GetOrder(s.ctx, stranger, order.ID)
	s.ErrorIs(err, domain.ErrForbidden)

	mine, total, err := s.service.ListOrders(s.ctx, s.f.customer, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Equal(order.ID, mine[0].ID)

	_, total, err = s.service.ListOrders(s.ctx, stranger, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Zero(total)

	_, total, err = s.service.ListOrders(s.ctx, s.f.owner, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)

	foreign := uuid.New()
	_, _, err = s.service.ListOrders(s.ctx, s.f.owner, domain.OrderFilter{StoreID: &foreign})
	s.ErrorIs(err, domain.ErrForbidden)

	_, total, err = s.service.ListOrders(s.ctx, s.f.admin, domain.OrderFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
}

func (s *OrderServiceSuite) TestLapseOrders() {
	item := s.f.addItem(s.Require(), "1.00", 5, t0.Add(10*24*time.Hour))
	stale := s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1})
	confirmed := s.advance(s.place(domain.LineRequest{ItemID: item.ID, Quantity: 1}), domain.OrderStatusConfirmed)

	s.clock.Set(t0.Add(service.DefaultOrderTTL + time.Minute))
	n, err := s.service.LapseOrders(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	got, err := s.service.GetOrder(s.ctx, s.f.owner, stale.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusExpired, got.Status)

	got, err = s.service.GetOrder(s.ctx, s.f.owner, confirmed.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusConfirmed, got.Status)

	_, err = s.service.TransitionOrder(s.ctx, s.f.owner, stale.ID, domain.OrderStatusConfirmed, "")
	s.ErrorIs(err, domain.ErrInvalidTransition)

	n, err = s.service.LapseOrders(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}
