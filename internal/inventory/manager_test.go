package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

func newTestManager(t *testing.T, products ...Product) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	for _, p := range products {
		store.PutProduct(p)
	}
	exec := retry.New(retry.Config{MaxAttempts: 10, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, zap.NewNop())
	return NewManager(store, store, exec, zap.NewNop()), store
}

func product(id string, onHand int) Product {
	return Product{ID: id, SellerID: "seller-1", Name: id, UnitPrice: decimal.NewFromInt(10), OnHand: onHand}
}

func TestCreateReservation_Validation(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	cases := []struct {
		name      string
		productID string
		customer  string
		qty       int
		ttl       time.Duration
	}{
		{"empty product", "", "c1", 1, time.Minute},
		{"empty customer", "A", "", 1, time.Minute},
		{"zero quantity", "A", "c1", 0, time.Minute},
		{"negative quantity", "A", "c1", -2, time.Minute},
		{"zero ttl", "A", "c1", 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.CreateReservation(ctx, tc.productID, tc.customer, tc.qty, tc.ttl)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreateReservation_UnknownProduct(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateReservation(context.Background(), "missing", "c1", 1, time.Minute)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateReservation_InsufficientStock(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	_, err := m.CreateReservation(ctx, "A", "c1", 4, time.Minute)
	require.NoError(t, err)

	_, err = m.CreateReservation(ctx, "A", "c2", 2, time.Minute)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.ErrorIs(t, err, apperr.ErrBusinessRule)

	var se *ShortageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []Shortage{{ProductID: "A", Required: 2, Available: 1}}, se.Items)
}

func TestCreateReservation_ConcurrentOrdersCannotOversell(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		shorts int
		others []error
	)
	for _, customer := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(customer string) {
			defer wg.Done()
			_, err := m.CreateReservation(ctx, "A", customer, 3, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				shorts++
			default:
				others = append(others, err)
			}
		}(customer)
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, shorts)

	total, err := m.GetTotalReserved(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestCreateReservation_ManyContendersFillExactly(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CreateReservation(ctx, "A", "c", 1, time.Minute); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	total, err := m.GetTotalReserved(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestConfirmReservation_ConsumesStock(t *testing.T) {
	m, store := newTestManager(t, product("A", 5))
	ctx := context.Background()

	r, err := m.CreateReservation(ctx, "A", "c1", 3, time.Minute)
	require.NoError(t, err)

	confirmed, err := m.ConfirmReservation(ctx, r.ID, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, "order-1", confirmed.OrderID)
	assert.NotNil(t, confirmed.ConfirmedAt)

	p, err := store.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, p.OnHand)

	reserved, err := m.GetTotalReserved(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, reserved)

	byOrder, err := m.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.Equal(t, r.ID, byOrder[0].ID)
}

func TestConfirmReservation_TerminalStatesRejected(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	released, err := m.CreateReservation(ctx, "A", "c1", 1, time.Minute)
	require.NoError(t, err)
	_, err = m.ReleaseReservation(ctx, released.ID)
	require.NoError(t, err)

	_, err = m.ConfirmReservation(ctx, released.ID, "order-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	expired, err := m.CreateReservation(ctx, "A", "c2", 1, time.Minute)
	require.NoError(t, err)
	_, err = m.ExpireReservation(ctx, expired.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = m.ConfirmReservation(ctx, expired.ID, "order-2")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmAll_TakesStockForEveryHold(t *testing.T) {
	m, store := newTestManager(t, product("A", 10), product("B", 5))
	ctx := context.Background()

	a1, err := m.CreateReservation(ctx, "A", "c1", 3, time.Minute)
	require.NoError(t, err)
	a2, err := m.CreateReservation(ctx, "A", "c1", 1, time.Minute)
	require.NoError(t, err)
	b, err := m.CreateReservation(ctx, "B", "c1", 2, time.Minute)
	require.NoError(t, err)

	rs, err := m.ConfirmAll(ctx, []string{a1.ID, a2.ID, b.ID}, "order-1")
	require.NoError(t, err)
	require.Len(t, rs, 3)
	for _, r := range rs {
		assert.Equal(t, StatusConfirmed, r.Status)
		assert.Equal(t, "order-1", r.OrderID)
	}

	pa, err := store.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 6, pa.OnHand)
	pb, err := store.GetProduct(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 3, pb.OnHand)
}

func TestConfirmAll_ShortageOnOneProductConfirmsNothing(t *testing.T) {
	m, store := newTestManager(t, product("A", 10), product("B", 5))
	ctx := context.Background()

	a, err := m.CreateReservation(ctx, "A", "c1", 4, time.Minute)
	require.NoError(t, err)
	b, err := m.CreateReservation(ctx, "B", "c1", 2, time.Minute)
	require.NoError(t, err)

	// B is corrected down after the hold was taken
	store.PutProduct(product("B", 1))

	_, err = m.ConfirmAll(ctx, []string{a.ID, b.ID}, "order-1")
	var short *ShortageError
	require.ErrorAs(t, err, &short)
	require.Len(t, short.Items, 1)
	assert.Equal(t, Shortage{ProductID: "B", Required: 2, Available: 1}, short.Items[0])

	pa, err := store.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, pa.OnHand)
	for _, id := range []string{a.ID, b.ID} {
		r, err := m.GetReservation(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, r.Status)
		assert.Empty(t, r.OrderID)
	}

	// the holds can still be released in full
	m.ReleaseAll(ctx, []Reservation{*a, *b})
	reserved, err := m.GetTotalReservedBulk(ctx, []string{"A", "B"})
	require.NoError(t, err)
	assert.Zero(t, reserved["A"])
	assert.Zero(t, reserved["B"])
}

func TestConfirmAll_TerminalHoldConfirmsNothing(t *testing.T) {
	m, store := newTestManager(t, product("A", 10))
	ctx := context.Background()

	live, err := m.CreateReservation(ctx, "A", "c1", 2, time.Minute)
	require.NoError(t, err)
	gone, err := m.CreateReservation(ctx, "A", "c1", 1, time.Minute)
	require.NoError(t, err)
	_, err = m.ReleaseReservation(ctx, gone.ID)
	require.NoError(t, err)

	_, err = m.ConfirmAll(ctx, []string{live.ID, gone.ID}, "order-1")
	require.ErrorIs(t, err, ErrInvalidState)

	p, err := store.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, p.OnHand)
	r, err := m.GetReservation(ctx, live.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
}

func TestConfirmAll_Validation(t *testing.T) {
	m, _ := newTestManager(t, product("A", 10))
	ctx := context.Background()

	r, err := m.CreateReservation(ctx, "A", "c1", 1, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name    string
		ids     []string
		orderID string
	}{
		{"no ids", nil, "order-1"},
		{"blank id", []string{r.ID, " "}, "order-1"},
		{"listed twice", []string{r.ID, r.ID}, "order-1"},
		{"no order", []string{r.ID}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.ConfirmAll(ctx, tc.ids, tc.orderID)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestReleaseReservation_TerminalIsRejected(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	r, err := m.CreateReservation(ctx, "A", "c1", 2, time.Minute)
	require.NoError(t, err)

	out, err := m.ReleaseReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, out.Status)
	assert.NotNil(t, out.ReleasedAt)

	_, err = m.ReleaseReservation(ctx, r.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	reserved, err := m.GetTotalReserved(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, reserved)
}

func TestExpireReservation_NotYetDue(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	r, err := m.CreateReservation(ctx, "A", "c1", 1, time.Hour)
	require.NoError(t, err)

	_, err = m.ExpireReservation(ctx, r.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotYetExpired)
}

func TestCheckAvailability_ReportsEveryShortage(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5), product("B", 1), product("C", 10))
	ctx := context.Background()

	_, err := m.CreateReservation(ctx, "A", "other", 4, time.Minute)
	require.NoError(t, err)

	_, err = m.CheckAvailability(ctx, []Line{
		{ProductID: "A", Quantity: 1},
		{ProductID: "A", Quantity: 1},
		{ProductID: "B", Quantity: 2},
		{ProductID: "C", Quantity: 3},
	})
	var se *ShortageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []Shortage{
		{ProductID: "A", Required: 2, Available: 1},
		{ProductID: "B", Required: 2, Available: 1},
	}, se.Items)

	products, err := m.CheckAvailability(ctx, []Line{{ProductID: "C", Quantity: 10}})
	require.NoError(t, err)
	assert.Equal(t, "seller-1", products["C"].SellerID)
}

func TestCheckAvailability_UnknownProduct(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	_, err := m.CheckAvailability(context.Background(), []Line{{ProductID: "nope", Quantity: 1}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReserveAll_ReleasesEarlierHoldsOnFailure(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5), product("B", 1))
	ctx := context.Background()

	_, err := m.ReserveAll(ctx, "c1", []Line{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 3},
	}, time.Minute, "checkout-1")
	require.ErrorIs(t, err, ErrInsufficientStock)

	totals, err := m.GetTotalReservedBulk(ctx, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, totals)

	held, err := m.ListByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, StatusReleased, held[0].Status)
	assert.Equal(t, "checkout-1", held[0].ExternalReference)
}

func TestSoftDeleteReservation(t *testing.T) {
	m, _ := newTestManager(t, product("A", 5))
	ctx := context.Background()

	r, err := m.CreateReservation(ctx, "A", "c1", 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.SoftDeleteReservation(ctx, r.ID, "admin", "duplicate"))

	_, err = m.GetReservation(ctx, r.ID, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := m.GetReservation(ctx, r.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "admin", got.DeletedBy)
	assert.Equal(t, "duplicate", got.DeleteReason)

	reserved, err := m.GetTotalReserved(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, reserved)
}

func TestListByStatus_UnknownStatus(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.ListByStatus(context.Background(), Status("Lost"), 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusPending, StatusReleased))
	assert.True(t, CanTransition(StatusPending, StatusExpired))
	for _, from := range []Status{StatusConfirmed, StatusReleased, StatusExpired} {
		for _, to := range []Status{StatusPending, StatusConfirmed, StatusReleased, StatusExpired} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
