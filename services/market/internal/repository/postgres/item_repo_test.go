package postgres_test

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
)

func (s *PostgresSuite) TestDebitIsConditional() {
	item := s.createItem(5, time.Now().Add(10*24*time.Hour))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		short   int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.store.Items().Debit(s.Ctx, item.ID, 1, time.Now())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrInsufficientStock):
				short++
			}
		}()
	}
	wg.Wait()

	s.Equal(5, success)
	s.Equal(3, short)

	got, err := s.store.Items().GetByID(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Zero(got.Stock)
	s.Equal(domain.ItemStatusSoldOut, got.Status)
}

func (s *PostgresSuite) TestDebitUnknownItem() {
	_, err := s.store.Items().Debit(s.Ctx, s.shop.ID, 1, time.Now())
	s.ErrorIs(err, domain.ErrItemNotFound)
}

func (s *PostgresSuite) TestCreditRejectsOverflow() {
	item := s.createItem(10, time.Now().Add(10*24*time.Hour))

	_, err := s.store.Items().Credit(s.Ctx, item.ID, math.MaxInt64, time.Now())
	s.ErrorIs(err, domain.ErrStockOverflow)
	s.Equal(domain.KindValidation, domain.Kind(err))

	got, err := s.store.Items().GetByID(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(int64(10), got.Stock)

	_, err = s.store.Items().Credit(s.Ctx, s.shop.ID, 1, time.Now())
	s.ErrorIs(err, domain.ErrItemNotFound)
}

func (s *PostgresSuite) TestRollbackRestoresStock() {
	item := s.createItem(4, time.Now().Add(10*24*time.Hour))
	boom := errors.New("boom")

	err := s.store.WithinTx(s.Ctx, func(tx repository.Repos) error {
		if _, err := tx.Items().Debit(s.Ctx, item.ID, 3, time.Now()); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Items().GetByID(s.Ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(int64(4), got.Stock)
}

func (s *PostgresSuite) TestApplyDiscountOnce() {
	now := time.Now()
	item := s.createItem(4, now.Add(20*time.Hour))

	candidates, err := s.store.Items().ListSweepCandidates(s.Ctx, now, 48*time.Hour)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)

	discounted, applied, err := s.store.Items().ApplyDiscount(s.Ctx, item.ID, 50, now)
	s.Require().NoError(err)
	s.True(applied)
	s.Equal("1.25", discounted.UnitPrice().StringFixed(2))
	s.Equal(domain.ItemStatusExpiring, discounted.Status)

	_, applied, err = s.store.Items().ApplyDiscount(s.Ctx, item.ID, 30, now)
	s.Require().NoError(err)
	s.False(applied)

	candidates, err = s.store.Items().ListSweepCandidates(s.Ctx, now, 48*time.Hour)
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *PostgresSuite) TestApplyDiscountSkipsUnsellableItems() {
	now := time.Now()
	soldOut := s.createItem(0, now.Add(20*time.Hour))
	s.Require().Equal(domain.ItemStatusSoldOut, soldOut.Status)

	removed := s.createItem(4, now.Add(20*time.Hour))
	removed.Status = domain.ItemStatusRemoved
	s.Require().NoError(s.store.Items().Save(s.Ctx, &removed))

	for _, item := range []domain.CatalogItem{soldOut, removed} {
		got, applied, err := s.store.Items().ApplyDiscount(s.Ctx, item.ID, 50, now)
		s.Require().NoError(err)
		s.False(applied, item.Status)
		s.False(got.IsDiscounted)
		s.Equal(item.Status, got.Status)
		s.Equal("2.50", got.UnitPrice().StringFixed(2))
	}
}

func (s *PostgresSuite) TestExpirePastItems() {
	now := time.Now()
	item := s.createItem(2, now.Add(time.Hour))

	status, changed, err := s.store.Items().Expire(s.Ctx, item.ID, now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.True(changed)
	s.Equal(domain.ItemStatusExpired, status)

	_, changed, err = s.store.Items().Expire(s.Ctx, item.ID, now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.False(changed)
}
