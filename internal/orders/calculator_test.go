package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/discount"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
	"github.com/ariefcatur/marketplace-pricing/internal/shipping"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	stock     *inventory.MemoryStore
	manager   *inventory.Manager
	discounts *discount.MemoryStore
	validator *discount.Validator
	calc      *Calculator
	exec      *retry.Executor
}

// newFixture wires the real components over memory stores:
//
//	P1 seller s1 100.00 x10, P2 seller s2 50.00 x5
//	s1 national fee 30.00, s2 national fee 15.00
func newFixture(t *testing.T) *fixture {
	t.Helper()
	exec := retry.New(retry.Config{MaxAttempts: 10, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, zap.NewNop())

	stock := inventory.NewMemoryStore()
	stock.PutProduct(inventory.Product{ID: "P1", SellerID: "s1", Name: "kettle", UnitPrice: dec("100.00"), OnHand: 10})
	stock.PutProduct(inventory.Product{ID: "P2", SellerID: "s2", Name: "mug", UnitPrice: dec("50.00"), OnHand: 5})
	manager := inventory.NewManager(stock, stock, exec, zap.NewNop())

	loc := shipping.NewMemoryLocationStore()
	loc.PutStoreConfig(shipping.StoreConfig{StoreID: "s1", SameDayFee: dec("40"), StandardFee: dec("20"), NationalFee: dec("30")})
	loc.PutStoreConfig(shipping.StoreConfig{StoreID: "s2", SameDayFee: dec("25"), StandardFee: dec("10"), NationalFee: dec("15")})
	resolver := shipping.NewResolver(loc, shipping.Config{SupportedCountry: "Egypt"}, zap.NewNop())

	discounts := discount.NewMemoryStore()
	validator := discount.NewValidator(discounts, exec, zap.NewNop())

	return &fixture{
		stock:     stock,
		manager:   manager,
		discounts: discounts,
		validator: validator,
		calc:      NewCalculator(manager, resolver, validator, zap.NewNop()),
		exec:      exec,
	}
}

func (f *fixture) addDiscount(t *testing.T, code string, typ discount.Type, value string) {
	t.Helper()
	now := time.Now().UTC()
	d := discount.Discount{
		ID:         code,
		Code:       discount.NormalizeCode(code),
		Type:       typ,
		Value:      dec(value),
		ValidFrom:  now.Add(-time.Hour),
		ValidTo:    now.Add(24 * time.Hour),
		IsActive:   true,
		UsageLimit: 1,
	}
	require.NoError(t, f.discounts.Create(context.Background(), &d))
}

func alexandria(items ...ItemInput) PriceRequest {
	return PriceRequest{CustomerID: "c1", Items: items, City: "Alexandria", Country: "Egypt"}
}

func TestCalculate_SubtotalAndShippingPerSeller(t *testing.T) {
	f := newFixture(t)

	calc, err := f.calc.Calculate(context.Background(), alexandria(
		ItemInput{ProductID: "P1", Qty: 2},
		ItemInput{ProductID: "P2", Qty: 3},
	))
	require.NoError(t, err)

	assert.True(t, calc.Subtotal.Equal(dec("350.00")), calc.Subtotal.String())
	require.Len(t, calc.Shipping, 2)
	assert.Equal(t, "s1", calc.Shipping[0].StoreID)
	assert.Equal(t, shipping.ZoneNational, calc.Shipping[0].Zone)
	assert.True(t, calc.ShippingCost.Equal(dec("45")), calc.ShippingCost.String())
	assert.True(t, calc.DiscountAmount.IsZero())
	assert.True(t, calc.Total.Equal(dec("395.00")), calc.Total.String())

	sum := decimal.Zero
	for _, l := range calc.Lines {
		sum = sum.Add(l.LineTotal)
	}
	assert.True(t, sum.Equal(calc.Subtotal))

	// pricing holds nothing
	reserved, err := f.manager.GetTotalReserved(context.Background(), "P1")
	require.NoError(t, err)
	assert.Zero(t, reserved)
}

func TestCalculate_SameSellerShippedOnce(t *testing.T) {
	f := newFixture(t)
	f.stock.PutProduct(inventory.Product{ID: "P3", SellerID: "s1", Name: "pot", UnitPrice: dec("10"), OnHand: 3})

	calc, err := f.calc.Calculate(context.Background(), alexandria(
		ItemInput{ProductID: "P1", Qty: 1},
		ItemInput{ProductID: "P3", Qty: 1},
	))
	require.NoError(t, err)
	require.Len(t, calc.Shipping, 1)
	assert.True(t, calc.ShippingCost.Equal(dec("30")))
}

func TestCalculate_StackedDiscounts(t *testing.T) {
	f := newFixture(t)
	f.addDiscount(t, "SAVE10", discount.TypePercentage, "10")
	f.addDiscount(t, "FLAT5", discount.TypeFixedAmount, "5")

	req := alexandria(ItemInput{ProductID: "P1", Qty: 1})
	req.DiscountCodes = []string{"save10", "FLAT5"}
	calc, err := f.calc.Calculate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "15.00", calc.DiscountAmount.StringFixed(2))
	assert.Equal(t, "115.00", calc.Total.StringFixed(2))
	assert.Equal(t, []string{"SAVE10 (Percentage)", "FLAT5 (FixedAmount)"}, calc.Descriptors())

	// validation alone never spends a code
	d, err := f.discounts.GetByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.False(t, d.IsUsed)
}

func TestCalculate_DiscountClampedToSubtotal(t *testing.T) {
	f := newFixture(t)
	f.addDiscount(t, "FLAT500", discount.TypeFixedAmount, "500")

	req := alexandria(ItemInput{ProductID: "P1", Qty: 1})
	req.DiscountCodes = []string{"FLAT500"}
	calc, err := f.calc.Calculate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, calc.DiscountAmount.Equal(calc.Subtotal))
	assert.True(t, calc.Total.Equal(calc.ShippingCost))
	assert.False(t, calc.Total.IsNegative())
}

func TestCalculate_RejectedCodeFailsPricing(t *testing.T) {
	f := newFixture(t)
	f.addDiscount(t, "SAVE10", discount.TypePercentage, "10")

	req := alexandria(ItemInput{ProductID: "P1", Qty: 1})
	req.DiscountCodes = []string{"SAVE10", "NOPE"}
	_, err := f.calc.Calculate(context.Background(), req)
	require.ErrorIs(t, err, discount.ErrInvalidDiscount)
	assert.Contains(t, err.Error(), "NOPE")
}

func TestCalculate_ShortageHoldsNothing(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.calc.CalculateAndHold(context.Background(), alexandria(
		ItemInput{ProductID: "P1", Qty: 1},
		ItemInput{ProductID: "P2", Qty: 6},
	), time.Minute, "ref-1")
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	var shortage *inventory.ShortageError
	require.True(t, errors.As(err, &shortage))
	require.Len(t, shortage.Items, 1)
	assert.Equal(t, "P2", shortage.Items[0].ProductID)
	assert.Equal(t, 6, shortage.Items[0].Required)
	assert.Equal(t, 5, shortage.Items[0].Available)

	totals, err := f.manager.GetTotalReservedBulk(context.Background(), []string{"P1", "P2"})
	require.NoError(t, err)
	assert.Zero(t, totals["P1"])
	assert.Zero(t, totals["P2"])
}

func TestCalculate_UnsupportedDestination(t *testing.T) {
	f := newFixture(t)

	req := alexandria(ItemInput{ProductID: "P1", Qty: 1})
	req.City, req.Country = "Riyadh", "Saudi Arabia"
	_, err := f.calc.Calculate(context.Background(), req)
	assert.ErrorIs(t, err, shipping.ErrNotSupported)
}

func TestCalculate_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, req := range map[string]PriceRequest{
		"no customer": {Items: []ItemInput{{ProductID: "P1", Qty: 1}}},
		"no items":    {CustomerID: "c1"},
		"zero qty":    alexandria(ItemInput{ProductID: "P1"}),
		"no product":  alexandria(ItemInput{Qty: 1}),
	} {
		_, err := f.calc.Calculate(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}
}

func TestCalculateAndHold_PlacesHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calc, holds, err := f.calc.CalculateAndHold(ctx, alexandria(
		ItemInput{ProductID: "P1", Qty: 1},
		ItemInput{ProductID: "P1", Qty: 2},
		ItemInput{ProductID: "P2", Qty: 1},
	), time.Minute, "cart-9")
	require.NoError(t, err)
	require.NotNil(t, calc)
	require.Len(t, holds, 2)
	for _, h := range holds {
		assert.Equal(t, inventory.StatusPending, h.Status)
		assert.Equal(t, "cart-9", h.ExternalReference)
	}

	reserved, err := f.manager.GetTotalReserved(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, reserved)
}
