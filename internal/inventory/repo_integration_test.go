//go:build integration

package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
	"github.com/ariefcatur/marketplace-pricing/internal/testsuite"
)

type repoSuite struct {
	testsuite.BaseSuite
	store    *ReservationRepo
	products *ProductRepo
	m        *Manager
}

func TestRepoSuite(t *testing.T) {
	suite.Run(t, new(repoSuite))
}

func (s *repoSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")
	s.store = &ReservationRepo{DB: s.DB}
	s.products = &ProductRepo{DB: s.DB}
	exec := retry.New(retry.Config{MaxAttempts: 50, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}, zap.NewNop())
	s.m = NewManager(s.store, s.products, exec, zap.NewNop())
}

func (s *repoSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *repoSuite) SetupTest() {
	s.TruncateTables("stock_reservations", "products")
	s.InsertProduct("A", "seller-1", "12.50", 5)
}

func (s *repoSuite) TestProductRead() {
	p, err := s.products.GetProduct(s.Ctx, "A")
	s.Require().NoError(err)
	s.Equal("seller-1", p.SellerID)
	s.Equal("12.5", p.UnitPrice.String())
	s.Equal(5, p.OnHand)
}

func (s *repoSuite) TestConcurrentHoldsNeverOversell() {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.m.CreateReservation(context.Background(), "A", "c", 1, time.Minute)
			if err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
				return
			}
			s.True(errors.Is(err, ErrInsufficientStock), err.Error())
		}()
	}
	wg.Wait()

	s.Equal(5, oks)
	total, err := s.m.GetTotalReserved(s.Ctx, "A")
	s.Require().NoError(err)
	s.Equal(5, total)
}

func (s *repoSuite) TestConfirmTakesStock() {
	r, err := s.m.CreateReservation(s.Ctx, "A", "c1", 3, time.Minute)
	s.Require().NoError(err)

	got, err := s.m.ConfirmReservation(s.Ctx, r.ID, "order-1")
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, got.Status)
	s.NotNil(got.ConfirmedAt)

	p, err := s.products.GetProduct(s.Ctx, "A")
	s.Require().NoError(err)
	s.Equal(2, p.OnHand)

	byOrder, err := s.m.ListByOrder(s.Ctx, "order-1")
	s.Require().NoError(err)
	s.Len(byOrder, 1)

	// 2 on hand: a hold for 3 no longer fits
	_, err = s.m.CreateReservation(s.Ctx, "A", "c2", 3, time.Minute)
	s.ErrorIs(err, ErrInsufficientStock)
}

func (s *repoSuite) TestConfirmAllIsOneWrite() {
	s.InsertProduct("B", "seller-2", "4.00", 3)
	a, err := s.m.CreateReservation(s.Ctx, "A", "c1", 2, time.Minute)
	s.Require().NoError(err)
	b, err := s.m.CreateReservation(s.Ctx, "B", "c1", 1, time.Minute)
	s.Require().NoError(err)

	pa, err := s.products.GetProduct(s.Ctx, "A")
	s.Require().NoError(err)
	pb, err := s.products.GetProduct(s.Ctx, "B")
	s.Require().NoError(err)

	ra, err := s.store.Get(s.Ctx, a.ID, false)
	s.Require().NoError(err)
	rb, err := s.store.Get(s.Ctx, b.ID, false)
	s.Require().NoError(err)
	now := time.Now().UTC()
	s.Require().NoError(ra.confirm("order-1", now))
	s.Require().NoError(rb.confirm("order-1", now))

	// a stale version on B rolls back the stock already taken from A
	err = s.store.ConfirmAll(s.Ctx, []*Reservation{ra, rb}, map[string]int64{"A": pa.Version, "B": pb.Version - 1})
	s.ErrorIs(err, retry.ErrVersionConflict)

	after, err := s.products.GetProduct(s.Ctx, "A")
	s.Require().NoError(err)
	s.Equal(5, after.OnHand)
	stored, err := s.store.Get(s.Ctx, a.ID, false)
	s.Require().NoError(err)
	s.Equal(StatusPending, stored.Status)

	// the manager path re-reads versions and goes through
	rs, err := s.m.ConfirmAll(s.Ctx, []string{a.ID, b.ID}, "order-1")
	s.Require().NoError(err)
	s.Len(rs, 2)
	after, err = s.products.GetProduct(s.Ctx, "A")
	s.Require().NoError(err)
	s.Equal(3, after.OnHand)
	after, err = s.products.GetProduct(s.Ctx, "B")
	s.Require().NoError(err)
	s.Equal(2, after.OnHand)
}

func (s *repoSuite) TestSoftDeleteHidesReservation() {
	r, err := s.m.CreateReservation(s.Ctx, "A", "c1", 1, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.m.SoftDeleteReservation(s.Ctx, r.ID, "ops", "duplicate"))

	list, err := s.m.ListByCustomer(s.Ctx, "c1")
	s.Require().NoError(err)
	s.Empty(list)

	got, err := s.m.GetReservation(s.Ctx, r.ID, true)
	s.Require().NoError(err)
	s.True(got.Deleted)
	s.Equal("ops", got.DeletedBy)
}

func (s *repoSuite) TestSweepUnderRedisLock() {
	r, err := s.m.CreateReservation(s.Ctx, "A", "c1", 2, time.Minute)
	s.Require().NoError(err)

	locker := &redisx.Locker{RDB: s.Redis}
	sw := NewSweeper(s.m, locker, nil, zap.NewNop(), SweeperConfig{Interval: time.Second})
	sw.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	unlock, ok, err := locker.TryLock(s.Ctx, redisx.KeySweepLock, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	n, err := sw.SweepOnce(s.Ctx)
	s.Require().NoError(err)
	s.Zero(n)

	unlock(s.Ctx)
	n, err = sw.SweepOnce(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	got, err := s.m.GetReservation(s.Ctx, r.ID, false)
	s.Require().NoError(err)
	s.Equal(StatusExpired, got.Status)
}
