package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/marketplace-pricing/internal/kafka"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventReservationExpired = "ReservationExpired"
	EventCheckoutAbandoned  = "CheckoutAbandoned"
)

const eventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderPlacedPayload struct {
	OrderID        string          `json:"order_id"`
	CustomerID     string          `json:"customer_id"`
	Items          []OrderItem     `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
	DiscountCodes  []string        `json:"discount_codes,omitempty"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type ReservationExpiredPayload struct {
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	CustomerID    string    `json:"customer_id"`
	Qty           int       `json:"qty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CheckoutAbandonedPayload is published by the storefront when a customer
// leaves checkout. Either the explicit reservation ids or the external
// reference used when the holds were placed identify what to release.
type CheckoutAbandonedPayload struct {
	CustomerID        string   `json:"customer_id"`
	ExternalReference string   `json:"external_reference,omitempty"`
	ReservationIDs    []string `json:"reservation_ids,omitempty"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Emitter wraps payloads in an Envelope and hands them to a topic producer.
// ByType routes an event type to its own topic; anything else goes to Pub.
// A nil Emitter drops events, which is what the memory driver runs with.
type Emitter struct {
	Pub         Publisher
	ByType      map[string]Publisher
	ServiceName string
	Logger      *zap.Logger
}

func (e *Emitter) publisher(eventType string) Publisher {
	if p, ok := e.ByType[eventType]; ok {
		return p
	}
	return e.Pub
}

func (e *Emitter) Emit(ctx context.Context, eventType, correlationID string, payload any) {
	if e == nil {
		return
	}
	pub := e.publisher(eventType)
	if pub == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.ServiceName,
		CorrelationID: correlationID,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	body, err := e.encode(&env, payload)
	if err != nil {
		if e.Logger != nil {
			logging.Error(ctx, e.Logger, "event not emitted", zap.String("event_type", eventType), zap.Error(err))
		}
		return
	}
	pub.Publish(PartitionKey(correlationID), body,
		kafkago.Header{Key: kafkax.HeaderEventType, Value: []byte(eventType)},
		kafkago.Header{Key: kafkax.HeaderEventVersion, Value: []byte(strconv.Itoa(eventVersion))},
	)
	if e.Logger != nil {
		logging.Debug(ctx, e.Logger, "event emitted",
			zap.String("event_type", eventType),
			zap.String("event_id", env.EventID),
			zap.String("correlation_id", correlationID),
		)
	}
}

func (e *Emitter) encode(env *Envelope, payload any) ([]byte, error) {
	raw, err := kafkax.Encode(payload)
	if err != nil {
		return nil, err
	}
	env.Payload = raw
	return kafkax.Encode(env)
}
