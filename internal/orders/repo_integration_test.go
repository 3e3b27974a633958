//go:build integration

package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/discount"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
	"github.com/ariefcatur/marketplace-pricing/internal/shipping"
	"github.com/ariefcatur/marketplace-pricing/internal/testsuite"
)

// placementSuite runs order placement against postgres and redis end to end.
type placementSuite struct {
	testsuite.BaseSuite
	svc       *Service
	repo      *Repo
	discounts *discount.Service
	products  *inventory.ProductRepo
}

func TestPlacementSuite(t *testing.T) {
	suite.Run(t, new(placementSuite))
}

func (s *placementSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")

	logger := zap.NewNop()
	exec := retry.New(retry.Config{MaxAttempts: 20, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}, logger)

	s.products = &inventory.ProductRepo{DB: s.DB}
	manager := inventory.NewManager(&inventory.ReservationRepo{DB: s.DB}, s.products, exec, logger)
	locations := shipping.NewBreakerLocationStore(
		shipping.NewCachedLocationStore(&shipping.LocationRepo{DB: s.DB}, s.Redis, logger), logger)
	resolver := shipping.NewResolver(locations, shipping.Config{SupportedCountry: "Egypt"}, logger)
	dstore := &discount.DiscountRepo{DB: s.DB}
	validator := discount.NewValidator(dstore, exec, logger)

	s.repo = &Repo{DB: s.DB}
	s.discounts = discount.NewService(dstore, exec, logger)
	s.svc = NewService(ServiceConfig{
		Store:      s.repo,
		Calculator: NewCalculator(manager, resolver, validator, logger),
		Holds:      manager,
		Discounts:  validator,
		Exec:       exec,
		Logger:     logger,
		Redis:      s.Redis,
		HoldTTL:    time.Minute,
	})
}

func (s *placementSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *placementSuite) SetupTest() {
	s.TruncateTables("order_items", "orders", "stock_reservations", "discounts",
		"store_shipping_configs", "store_regions", "cities", "regions", "products")
	s.InsertProduct("P1", "s1", "100.00", 4)

	_, err := s.DB.Exec(s.Ctx, `
		INSERT INTO regions(id, name) VALUES ('cai', 'Cairo'), ('alx', 'Alexandria');
		INSERT INTO cities(name, region_id) VALUES ('cairo', 'cai'), ('alexandria', 'alx');
		INSERT INTO store_regions(store_id, region_id) VALUES ('s1', 'cai');
		INSERT INTO store_shipping_configs(store_id, same_day_fee, standard_fee, national_fee, same_day_cities)
		VALUES ('s1', 40, 20, 30, ARRAY['cairo'])`)
	s.Require().NoError(err)
}

func (s *placementSuite) req(qty int, codes ...string) PriceRequest {
	return PriceRequest{CustomerID: "c1", Items: []ItemInput{{ProductID: "P1", Qty: qty}}, City: "Cairo", Country: "Egypt", DiscountCodes: codes}
}

func (s *placementSuite) TestPlaceOrderPersistsEverything() {
	_, err := s.discounts.Create(s.Ctx, discount.CreateInput{
		Code: "save10", Type: discount.TypePercentage, Value: dec("10"),
		ValidFrom: time.Now().UTC().Add(time.Second), ValidTo: time.Now().UTC().Add(24 * time.Hour),
		CreatedBy: "admin",
	})
	s.Require().NoError(err)
	time.Sleep(1100 * time.Millisecond)

	o, replay, err := s.svc.PlaceOrder(s.Ctx, PlaceInput{IdempotencyKey: "cart-1", Request: s.req(2, "SAVE10")})
	s.Require().NoError(err)
	s.False(replay)
	s.Equal("200.00", o.Subtotal.StringFixed(2))
	s.Equal("20.00", o.DiscountAmount.StringFixed(2))
	s.Equal("40.00", o.ShippingCost.StringFixed(2))
	s.Equal("220.00", o.Total.StringFixed(2))

	stored, err := s.repo.Get(s.Ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(o.Total.StringFixed(2), stored.Total.StringFixed(2))
	s.Equal([]string{"SAVE10"}, stored.DiscountCodes)
	s.Require().Len(stored.Items, 1)
	s.Equal("s1", stored.Items[0].SellerID)

	p, err := s.products.GetProduct(s.Ctx, "P1")
	s.Require().NoError(err)
	s.Equal(2, p.OnHand)

	again, replay, err := s.svc.PlaceOrder(s.Ctx, PlaceInput{IdempotencyKey: "cart-1", Request: s.req(2, "SAVE10")})
	s.Require().NoError(err)
	s.True(replay)
	s.Equal(o.ID, again.ID)

	_, _, err = s.svc.PlaceOrder(s.Ctx, PlaceInput{Request: s.req(1, "SAVE10")})
	s.ErrorIs(err, discount.ErrInvalidDiscount)
}

func (s *placementSuite) TestStoreRegionRules() {
	// s1 does not serve Alexandria's region
	_, _, err := s.svc.PlaceOrder(s.Ctx, PlaceInput{Request: PriceRequest{
		CustomerID: "c1", Items: []ItemInput{{ProductID: "P1", Qty: 1}}, City: "Alexandria", Country: "Egypt",
	}})
	s.ErrorIs(err, shipping.ErrNotSupported)
}

func (s *placementSuite) TestConcurrentPlacementsRespectStock() {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.svc.PlaceOrder(context.Background(), PlaceInput{Request: s.req(1)}); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.LessOrEqual(oks, 4)
	p, err := s.products.GetProduct(s.Ctx, "P1")
	s.Require().NoError(err)
	s.Equal(4-oks, p.OnHand)
	s.GreaterOrEqual(p.OnHand, 0)
}

func (s *placementSuite) TestStatusVersionCheck() {
	o, _, err := s.svc.PlaceOrder(s.Ctx, PlaceInput{Request: s.req(1)})
	s.Require().NoError(err)

	stale := *o
	_, err = s.svc.UpdateStatus(s.Ctx, o.ID, StatusProcessing)
	s.Require().NoError(err)

	stale.Status = StatusCancelled
	s.ErrorIs(s.repo.UpdateStatus(s.Ctx, &stale), retry.ErrVersionConflict)

	list, err := s.svc.ListByCustomer(s.Ctx, "c1")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(StatusProcessing, list[0].Status)
}

func (s *placementSuite) TestDiscardOnlyRemovesPendingOrders() {
	o, _, err := s.svc.PlaceOrder(s.Ctx, PlaceInput{IdempotencyKey: "cart-9", Request: s.req(1)})
	s.Require().NoError(err)
	_, err = s.svc.UpdateStatus(s.Ctx, o.ID, StatusProcessing)
	s.Require().NoError(err)
	s.ErrorIs(s.repo.Discard(s.Ctx, o.ID), apperr.ErrNotFound)

	pending, _, err := s.svc.PlaceOrder(s.Ctx, PlaceInput{IdempotencyKey: "cart-10", Request: s.req(1)})
	s.Require().NoError(err)
	s.Require().NoError(s.repo.Discard(s.Ctx, pending.ID))

	_, err = s.repo.Get(s.Ctx, pending.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
	_, err = s.repo.GetByExternalID(s.Ctx, "cart-10")
	s.ErrorIs(err, apperr.ErrNotFound)

	var items int
	s.Require().NoError(s.DB.QueryRow(s.Ctx, `SELECT count(*) FROM order_items WHERE order_id = $1`, pending.ID).Scan(&items))
	s.Zero(items)
}
