package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusReleased  Status = "Released"
	StatusExpired   Status = "Expired"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusReleased: true, StatusExpired: true},
	StatusConfirmed: {},
	StatusReleased:  {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s != StatusPending
}

var (
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", apperr.ErrBusinessRule)
	ErrInvalidState      = fmt.Errorf("%w: invalid reservation state", apperr.ErrBusinessRule)
	ErrNotYetExpired     = fmt.Errorf("%w: reservation has not expired", apperr.ErrBusinessRule)
)

// Product is the read side of the catalogue the manager needs: stock level,
// price and which seller owns it.
type Product struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"seller_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	OnHand    int             `json:"on_hand"`
	Version   int64           `json:"version"`
}

type Reservation struct {
	ID                string     `json:"id"`
	ProductID         string     `json:"product_id"`
	CustomerID        string     `json:"customer_id"`
	OrderID           string     `json:"order_id,omitempty"`
	Quantity          int        `json:"quantity"`
	Status            Status     `json:"status"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CreatedAt         time.Time  `json:"created_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	ReleasedAt        *time.Time `json:"released_at,omitempty"`
	ExternalReference string     `json:"external_reference,omitempty"`

	Deleted      bool       `json:"deleted,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`

	Version int64 `json:"version"`
}

func newReservation(productID, customerID string, quantity int, ttl time.Duration, ref string, now time.Time) *Reservation {
	if ref == "" {
		ref = uuid.NewString()
	}
	return &Reservation{
		ID:                uuid.NewString(),
		ProductID:         productID,
		CustomerID:        customerID,
		Quantity:          quantity,
		Status:            StatusPending,
		ExpiresAt:         now.Add(ttl),
		CreatedAt:         now,
		ExternalReference: ref,
	}
}

func (r *Reservation) transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s (reservation %s)", ErrInvalidState, r.Status, to, r.ID)
	}
	r.Status = to
	return nil
}

func (r *Reservation) confirm(orderID string, now time.Time) error {
	if err := r.transition(StatusConfirmed); err != nil {
		return err
	}
	r.OrderID = orderID
	r.ConfirmedAt = &now
	return nil
}

func (r *Reservation) release(now time.Time) error {
	if err := r.transition(StatusReleased); err != nil {
		return err
	}
	r.ReleasedAt = &now
	return nil
}

func (r *Reservation) expire(now time.Time) error {
	if r.Status == StatusPending && r.ExpiresAt.After(now) {
		return fmt.Errorf("%w: %s expires at %s", ErrNotYetExpired, r.ID, r.ExpiresAt.Format(time.RFC3339))
	}
	if err := r.transition(StatusExpired); err != nil {
		return err
	}
	r.ReleasedAt = &now
	return nil
}

// Shortage describes one line that cannot be served from current stock.
type Shortage struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type ShortageError struct {
	Items []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, s := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (required %d, available %d)", s.ProductID, s.Required, s.Available))
	}
	return ErrInsufficientStock.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ShortageError) Unwrap() error { return ErrInsufficientStock }

// Line is a product and quantity requested by an order.
type Line struct {
	ProductID string
	Quantity  int
}
