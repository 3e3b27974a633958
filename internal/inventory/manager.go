package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

var tracer = otel.Tracer("marketplace-pricing/inventory")

// Manager holds stock against in-flight orders. Every mutation is routed
// through the retry executor and re-reads the product and reservation on
// each attempt.
type Manager struct {
	store    Store
	products ProductStore
	exec     *retry.Executor
	logger   *zap.Logger
	now      func() time.Time
}

func NewManager(store Store, products ProductStore, exec *retry.Executor, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		products: products,
		exec:     exec,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type createOptions struct {
	externalRef string
}

type CreateOption func(*createOptions)

// WithExternalReference sets the correlation string stored on the
// reservation. A random one is generated otherwise.
func WithExternalReference(ref string) CreateOption {
	return func(o *createOptions) { o.externalRef = ref }
}

func (m *Manager) CreateReservation(ctx context.Context, productID, customerID string, quantity int, ttl time.Duration, opts ...CreateOption) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.CreateReservation", trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.Int("quantity", quantity),
	))
	defer span.End()

	switch {
	case strings.TrimSpace(productID) == "":
		return nil, apperr.Validation("product id is required")
	case strings.TrimSpace(customerID) == "":
		return nil, apperr.Validation("customer id is required")
	case quantity <= 0:
		return nil, apperr.Validation("quantity must be positive, got %d", quantity)
	case ttl <= 0:
		return nil, apperr.Validation("ttl must be positive, got %s", ttl)
	}

	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	r, err := retry.Do(ctx, m.exec, "create_reservation", func(ctx context.Context) (*Reservation, error) {
		p, err := m.products.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		reserved, err := m.store.ReservedQuantities(ctx, []string{productID})
		if err != nil {
			return nil, err
		}
		available := p.OnHand - reserved[productID]
		if quantity > available {
			return nil, &ShortageError{Items: []Shortage{{ProductID: productID, Required: quantity, Available: max(available, 0)}}}
		}

		r := newReservation(productID, customerID, quantity, ttl, o.externalRef, m.now())
		if err := m.store.Create(ctx, r, p.Version); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logging.Info(ctx, m.logger, "reservation created",
		zap.String("reservation_id", r.ID),
		zap.String("product_id", productID),
		zap.String("customer_id", customerID),
		zap.Int("quantity", quantity),
		zap.Time("expires_at", r.ExpiresAt),
	)
	return r, nil
}

// ConfirmReservation binds a pending reservation to orderID and takes its
// quantity off the product's on-hand stock.
func (m *Manager) ConfirmReservation(ctx context.Context, reservationID, orderID string) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.ConfirmReservation", trace.WithAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("order_id", orderID),
	))
	defer span.End()

	if strings.TrimSpace(reservationID) == "" {
		return nil, apperr.Validation("reservation id is required")
	}
	rs, err := m.confirm(ctx, "confirm_reservation", []string{reservationID}, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logging.Info(ctx, m.logger, "reservation confirmed",
		zap.String("reservation_id", reservationID),
		zap.String("order_id", orderID),
	)
	return &rs[0], nil
}

// ConfirmAll binds every listed reservation to orderID in a single write.
// Either all of them are confirmed and their stock taken, or none is.
func (m *Manager) ConfirmAll(ctx context.Context, reservationIDs []string, orderID string) ([]Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.ConfirmAll", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.Int("reservations", len(reservationIDs)),
	))
	defer span.End()

	if len(reservationIDs) == 0 {
		return nil, apperr.Validation("at least one reservation id is required")
	}
	seen := make(map[string]bool, len(reservationIDs))
	for _, id := range reservationIDs {
		switch {
		case strings.TrimSpace(id) == "":
			return nil, apperr.Validation("reservation id is required")
		case seen[id]:
			return nil, apperr.Validation("reservation %s listed twice", id)
		}
		seen[id] = true
	}

	rs, err := m.confirm(ctx, "confirm_reservations", reservationIDs, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logging.Info(ctx, m.logger, "reservations confirmed",
		zap.Strings("reservation_ids", reservationIDs),
		zap.String("order_id", orderID),
	)
	return rs, nil
}

func (m *Manager) confirm(ctx context.Context, op string, ids []string, orderID string) ([]Reservation, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperr.Validation("order id is required")
	}

	return retry.Do(ctx, m.exec, op, func(ctx context.Context) ([]Reservation, error) {
		now := m.now()
		rs := make([]*Reservation, 0, len(ids))
		need := make(map[string]int, len(ids))
		for _, id := range ids {
			r, err := m.store.Get(ctx, id, false)
			if err != nil {
				return nil, err
			}
			if err := r.confirm(orderID, now); err != nil {
				return nil, err
			}
			rs = append(rs, r)
			need[r.ProductID] += r.Quantity
		}

		productIDs := make([]string, 0, len(need))
		for id := range need {
			productIDs = append(productIDs, id)
		}
		sort.Strings(productIDs)
		products, err := m.products.GetProducts(ctx, productIDs)
		if err != nil {
			return nil, err
		}

		versions := make(map[string]int64, len(productIDs))
		var short []Shortage
		for _, id := range productIDs {
			p, ok := products[id]
			if !ok {
				return nil, apperr.NotFound("product", id)
			}
			if p.OnHand < need[id] {
				short = append(short, Shortage{ProductID: id, Required: need[id], Available: max(p.OnHand, 0)})
			}
			versions[id] = p.Version
		}
		if len(short) > 0 {
			return nil, &ShortageError{Items: short}
		}

		if err := m.store.ConfirmAll(ctx, rs, versions); err != nil {
			return nil, err
		}
		out := make([]Reservation, len(rs))
		for i, r := range rs {
			out[i] = *r
		}
		return out, nil
	})
}

// ReleaseReservation returns a pending hold to the pool. Releasing a terminal
// reservation fails with ErrInvalidState and changes nothing.
func (m *Manager) ReleaseReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.ReleaseReservation", trace.WithAttributes(
		attribute.String("reservation_id", reservationID),
	))
	defer span.End()

	if strings.TrimSpace(reservationID) == "" {
		return nil, apperr.Validation("reservation id is required")
	}

	r, err := retry.Do(ctx, m.exec, "release_reservation", func(ctx context.Context) (*Reservation, error) {
		r, err := m.store.Get(ctx, reservationID, false)
		if err != nil {
			return nil, err
		}
		if err := r.release(m.now()); err != nil {
			return nil, err
		}
		if err := m.store.Update(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logging.Info(ctx, m.logger, "reservation released", zap.String("reservation_id", r.ID))
	return r, nil
}

// ExpireReservation moves a pending reservation whose TTL elapsed before now
// to Expired. It is meant for the sweeper only.
func (m *Manager) ExpireReservation(ctx context.Context, reservationID string, now time.Time) (*Reservation, error) {
	return retry.Do(ctx, m.exec, "expire_reservation", func(ctx context.Context) (*Reservation, error) {
		r, err := m.store.Get(ctx, reservationID, false)
		if err != nil {
			return nil, err
		}
		if err := r.expire(now); err != nil {
			return nil, err
		}
		if err := m.store.Update(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	})
}

func (m *Manager) SoftDeleteReservation(ctx context.Context, reservationID, deletedBy, reason string) error {
	if strings.TrimSpace(reservationID) == "" {
		return apperr.Validation("reservation id is required")
	}
	if strings.TrimSpace(deletedBy) == "" {
		return apperr.Validation("deleted by is required")
	}
	return m.exec.ExecuteWithRetry(ctx, "delete_reservation", func(ctx context.Context) error {
		r, err := m.store.Get(ctx, reservationID, false)
		if err != nil {
			return err
		}
		now := m.now()
		r.Deleted = true
		r.DeletedAt = &now
		r.DeletedBy = deletedBy
		r.DeleteReason = reason
		return m.store.Update(ctx, r)
	})
}

func (m *Manager) GetTotalReserved(ctx context.Context, productID string) (int, error) {
	if strings.TrimSpace(productID) == "" {
		return 0, apperr.Validation("product id is required")
	}
	totals, err := m.store.ReservedQuantities(ctx, []string{productID})
	if err != nil {
		return 0, err
	}
	return totals[productID], nil
}

func (m *Manager) GetTotalReservedBulk(ctx context.Context, productIDs []string) (map[string]int, error) {
	if len(productIDs) == 0 {
		return map[string]int{}, nil
	}
	totals, err := m.store.ReservedQuantities(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = totals[id]
	}
	return out, nil
}

// CheckAvailability verifies every line against on-hand minus pending holds
// and returns the products involved. Lines for the same product are summed.
// All shortfalls are reported together in a *ShortageError.
func (m *Manager) CheckAvailability(ctx context.Context, lines []Line) (map[string]Product, error) {
	ctx, span := tracer.Start(ctx, "inventory.CheckAvailability")
	defer span.End()

	need, ids, err := aggregate(lines)
	if err != nil {
		return nil, err
	}

	products, err := m.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, apperr.NotFound("product", id)
		}
	}

	reserved, err := m.store.ReservedQuantities(ctx, ids)
	if err != nil {
		return nil, err
	}

	var short []Shortage
	for _, id := range ids {
		available := products[id].OnHand - reserved[id]
		if need[id] > available {
			short = append(short, Shortage{ProductID: id, Required: need[id], Available: max(available, 0)})
		}
	}
	if len(short) > 0 {
		err := &ShortageError{Items: short}
		span.RecordError(err)
		return nil, err
	}
	return products, nil
}

// ReserveAll places one hold per distinct product. If any hold fails the ones
// already created are released before returning.
func (m *Manager) ReserveAll(ctx context.Context, customerID string, lines []Line, ttl time.Duration, externalRef string) ([]Reservation, error) {
	need, ids, err := aggregate(lines)
	if err != nil {
		return nil, err
	}

	held := make([]Reservation, 0, len(ids))
	for _, id := range ids {
		r, err := m.CreateReservation(ctx, id, customerID, need[id], ttl, WithExternalReference(externalRef))
		if err != nil {
			m.releaseAll(ctx, held)
			return nil, err
		}
		held = append(held, *r)
	}
	return held, nil
}

// ReleaseAll releases every reservation in rs, logging failures. Reservations
// that already reached a terminal state are skipped silently.
func (m *Manager) ReleaseAll(ctx context.Context, rs []Reservation) {
	m.releaseAll(ctx, rs)
}

func (m *Manager) releaseAll(ctx context.Context, rs []Reservation) {
	for _, r := range rs {
		if _, err := m.ReleaseReservation(ctx, r.ID); err != nil && !errors.Is(err, ErrInvalidState) {
			logging.Error(ctx, m.logger, "release hold failed",
				zap.String("reservation_id", r.ID),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) GetReservation(ctx context.Context, id string, includeDeleted bool) (*Reservation, error) {
	return m.store.Get(ctx, id, includeDeleted)
}

func (m *Manager) ListByProduct(ctx context.Context, productID string) ([]Reservation, error) {
	return m.store.ListByProduct(ctx, productID)
}

func (m *Manager) ListByCustomer(ctx context.Context, customerID string) ([]Reservation, error) {
	return m.store.ListByCustomer(ctx, customerID)
}

func (m *Manager) ListByOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	return m.store.ListByOrder(ctx, orderID)
}

func (m *Manager) ListByStatus(ctx context.Context, status Status, limit int) ([]Reservation, error) {
	if _, ok := validNext[status]; !ok {
		return nil, apperr.Validation("unknown reservation status %q", status)
	}
	return m.store.ListByStatus(ctx, status, limit)
}

func aggregate(lines []Line) (map[string]int, []string, error) {
	if len(lines) == 0 {
		return nil, nil, apperr.Validation("at least one line is required")
	}
	need := make(map[string]int, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, nil, apperr.Validation("line %d: product id is required", i)
		}
		if l.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: line %d: quantity must be positive", apperr.ErrValidation, i)
		}
		need[l.ProductID] += l.Quantity
	}
	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return need, ids, nil
}
