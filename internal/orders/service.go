package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/events"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

type Holds interface {
	// ConfirmAll confirms every reservation or none of them.
	ConfirmAll(ctx context.Context, reservationIDs []string, orderID string) ([]inventory.Reservation, error)
	ReleaseAll(ctx context.Context, rs []inventory.Reservation)
}

type DiscountMarker interface {
	MarkUsed(ctx context.Context, discountID string) error
	ReleaseUsage(ctx context.Context, discountID string) error
}

type ServiceConfig struct {
	Store      Store
	Calculator *Calculator
	Holds      Holds
	Discounts  DiscountMarker
	Exec       *retry.Executor
	Logger     *zap.Logger

	// Optional. Without Redis idempotency falls back to the store lookup;
	// without an emitter events are dropped.
	Redis   *redis.Client
	Emitter *events.Emitter
	HoldTTL time.Duration
}

type Service struct {
	store     Store
	calc      *Calculator
	holds     Holds
	discounts DiscountMarker
	exec      *retry.Executor
	logger    *zap.Logger
	rdb       *redis.Client
	emitter   *events.Emitter
	holdTTL   time.Duration
	now       func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.HoldTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		store:     cfg.Store,
		calc:      cfg.Calculator,
		holds:     cfg.Holds,
		discounts: cfg.Discounts,
		exec:      cfg.Exec,
		logger:    cfg.Logger,
		rdb:       cfg.Redis,
		emitter:   cfg.Emitter,
		holdTTL:   ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type PlaceInput struct {
	// IdempotencyKey becomes the order's external id. Replaying a key
	// returns the order it created.
	IdempotencyKey string
	Request        PriceRequest
	CreatedBy      string
}

// Quote prices a request without holding stock or spending codes.
func (s *Service) Quote(ctx context.Context, req PriceRequest) (*TotalCalculation, error) {
	return s.calc.Calculate(ctx, req)
}

// PlaceOrder prices the request, holds stock, stores the order, spends the
// discount codes and converts the holds into confirmed reservations. A
// failure after the order is stored undoes every step, so the whole request
// can be retried. The bool result reports an idempotent replay.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceInput) (*Order, bool, error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.String("customer_id", in.Request.CustomerID),
		attribute.String("idempotency_key", in.IdempotencyKey),
	))
	defer span.End()

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if o, err := s.existing(ctx, key); err != nil {
			span.RecordError(err)
			return nil, false, err
		} else if o != nil {
			return o, true, nil
		}
	}

	orderID := uuid.NewString()
	ref := key
	if ref == "" {
		ref = orderID
	}

	calc, holds, err := s.calc.CalculateAndHold(ctx, in.Request, s.holdTTL, ref)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	now := s.now()
	o := &Order{
		ID:              orderID,
		ExternalID:      key,
		CustomerID:      in.Request.CustomerID,
		Status:          StatusPending,
		Source:          SourceCustomer,
		PaymentMethod:   PaymentCashOnDelivery,
		ShippingCity:    in.Request.City,
		ShippingCountry: in.Request.Country,
		Subtotal:        calc.Subtotal,
		DiscountAmount:  calc.DiscountAmount,
		ShippingCost:    calc.ShippingCost,
		Total:           calc.Total,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, l := range calc.Lines {
		o.Items = append(o.Items, OrderItem{ProductID: l.ProductID, SellerID: l.SellerID, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	for _, a := range calc.AppliedDiscounts {
		o.DiscountCodes = append(o.DiscountCodes, a.Code)
		o.DiscountTypes = append(o.DiscountTypes, string(a.Type))
	}

	if err := s.store.Create(ctx, o); err != nil {
		s.holds.ReleaseAll(ctx, holds)
		if errors.Is(err, ErrAlreadyExists) && key != "" {
			// lost a race with a replay of the same key
			if prev, gerr := s.store.GetByExternalID(ctx, key); gerr == nil {
				return prev, true, nil
			}
		}
		logging.Error(ctx, s.logger, "store order failed", zap.String("order_id", orderID), zap.Error(err))
		span.RecordError(err)
		return nil, false, err
	}

	if err := s.settle(ctx, o, calc.discountIDs, holds); err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	if key != "" && s.rdb != nil {
		if err := s.rdb.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderPlace, key), o.ID, redisx.TTLIdempotency).Err(); err != nil {
			logging.Warn(ctx, s.logger, "idempotency key not cached", zap.String("key", key), zap.Error(err))
		}
	}

	s.emitPlaced(ctx, o)
	logging.Info(ctx, s.logger, "order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Strings("discounts", calc.Descriptors()),
	)
	return o, false, nil
}

// settle spends the order's codes and confirms its holds. Codes go first:
// confirming takes stock off the shelf, which nothing gives back.
func (s *Service) settle(ctx context.Context, o *Order, discountIDs []string, holds []inventory.Reservation) error {
	spent := make([]string, 0, len(discountIDs))
	for _, id := range discountIDs {
		if err := s.discounts.MarkUsed(ctx, id); err != nil {
			s.rollback(ctx, o, spent, holds)
			return err
		}
		spent = append(spent, id)
	}

	ids := make([]string, len(holds))
	for i, h := range holds {
		ids[i] = h.ID
	}
	if _, err := s.holds.ConfirmAll(ctx, ids, o.ID); err != nil {
		s.rollback(ctx, o, spent, holds)
		return fmt.Errorf("confirm holds for order %s: %w", o.ID, err)
	}
	return nil
}

// rollback undoes a placement that failed after the order was stored. It
// runs detached from ctx so a cancelled request still cleans up.
func (s *Service) rollback(ctx context.Context, o *Order, spent []string, holds []inventory.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range spent {
		if err := s.discounts.ReleaseUsage(ctx, id); err != nil {
			logging.Error(ctx, s.logger, "give back discount failed",
				zap.String("order_id", o.ID),
				zap.String("discount_id", id),
				zap.Error(err),
			)
		}
	}
	s.holds.ReleaseAll(ctx, holds)
	if err := s.store.Discard(ctx, o.ID); err != nil {
		logging.Error(ctx, s.logger, "discard order failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	logging.Warn(ctx, s.logger, "order placement rolled back", zap.String("order_id", o.ID))
}

// existing resolves an idempotency key to a stored order, nil when unseen.
// Redis is only a shortcut; the store is authoritative.
func (s *Service) existing(ctx context.Context, key string) (*Order, error) {
	if s.rdb != nil {
		id, err := s.rdb.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderPlace, key)).Result()
		if err == nil && id != "" {
			if o, err := s.store.Get(ctx, id); err == nil {
				return o, nil
			}
		} else if err != nil && !errors.Is(err, redis.Nil) {
			logging.Warn(ctx, s.logger, "idempotency cache unavailable", zap.Error(err))
		}
	}
	o, err := s.store.GetByExternalID(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

type AdminOrderInput struct {
	ExternalID     string
	CustomerID     string
	Items          []OrderItem
	City           string
	Country        string
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
	CreatedBy      string
}

// PlaceAdminOrder stores an order with totals supplied by the caller. The
// calculator, stock holds and discount codes are not involved.
func (s *Service) PlaceAdminOrder(ctx context.Context, in AdminOrderInput) (*Order, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, apperr.Validation("customer id is required")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, apperr.Validation("created by is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation("order has no items")
	}
	for i, it := range in.Items {
		if it.ProductID == "" || it.Qty <= 0 || it.UnitPrice.IsNegative() {
			return nil, apperr.Validation("item %d is invalid", i)
		}
	}
	for name, v := range map[string]decimal.Decimal{
		"subtotal": in.Subtotal, "discount": in.DiscountAmount, "shipping": in.ShippingCost, "total": in.Total,
	} {
		if v.IsNegative() {
			return nil, apperr.Validation("%s must not be negative", name)
		}
	}

	now := s.now()
	o := &Order{
		ID:              uuid.NewString(),
		ExternalID:      strings.TrimSpace(in.ExternalID),
		CustomerID:      in.CustomerID,
		Status:          StatusPending,
		Source:          SourceAdmin,
		PaymentMethod:   PaymentCashOnDelivery,
		ShippingCity:    in.City,
		ShippingCountry: in.Country,
		Items:           in.Items,
		Subtotal:        in.Subtotal,
		DiscountAmount:  in.DiscountAmount,
		ShippingCost:    in.ShippingCost,
		Total:           in.Total,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.emitPlaced(ctx, o)
	logging.Info(ctx, s.logger, "admin order placed", zap.String("order_id", o.ID), zap.String("created_by", o.CreatedBy))
	return o, nil
}

// UpdateStatus moves an order along the status machine. The read and the
// version-checked write are retried together on conflict.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	var from Status
	o, err := retry.Do(ctx, s.exec, "update_order_status", func(ctx context.Context) (*Order, error) {
		o, err := s.store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(o.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = s.now()
		if err := s.store.UpdateStatus(ctx, o); err != nil {
			return nil, err
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, events.EventOrderStatusChanged, o.ID, events.OrderStatusChangedPayload{
		OrderID: o.ID, From: string(from), To: string(to),
	})
	logging.Info(ctx, s.logger, "order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, apperr.Validation("customer id is required")
	}
	return s.store.ListByCustomer(ctx, customerID)
}

func (s *Service) emitPlaced(ctx context.Context, o *Order) {
	items := make([]events.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.OrderItem{ProductID: it.ProductID, SellerID: it.SellerID, Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	s.emitter.Emit(ctx, events.EventOrderPlaced, o.ID, events.OrderPlacedPayload{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		Items:          items,
		Subtotal:       o.Subtotal,
		DiscountAmount: o.DiscountAmount,
		ShippingCost:   o.ShippingCost,
		Total:          o.Total,
		DiscountCodes:  o.DiscountCodes,
	})
}
