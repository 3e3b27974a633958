package inventory

import (
	"context"
	"time"
)

// Store persists reservations. Every mutating method is a single atomic write
// guarded by version tokens and returns retry.ErrVersionConflict when the
// guard fails; none of them retries.
type Store interface {
	// Create inserts r and bumps the product version, provided the product
	// is still at productVersion.
	Create(ctx context.Context, r *Reservation, productVersion int64) error
	// Update persists status, order binding and soft-delete fields of r when
	// the stored version equals r.Version. r.Version is advanced on success.
	Update(ctx context.Context, r *Reservation) error
	// ConfirmAll persists every reservation in rs as confirmed and takes the
	// summed quantities off each product's on-hand stock in one atomic write.
	// Every reservation must still be at its Version and every product at the
	// version given in productVersions; otherwise nothing changes.
	ConfirmAll(ctx context.Context, rs []*Reservation, productVersions map[string]int64) error

	Get(ctx context.Context, id string, includeDeleted bool) (*Reservation, error)
	ListByProduct(ctx context.Context, productID string) ([]Reservation, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Reservation, error)
	ListByOrder(ctx context.Context, orderID string) ([]Reservation, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Reservation, error)
	ListExpiredBefore(ctx context.Context, t time.Time, limit int) ([]Reservation, error)

	// ReservedQuantities returns the pending quantity per product. Products
	// without pending reservations map to zero.
	ReservedQuantities(ctx context.Context, productIDs []string) (map[string]int, error)
}

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
}
