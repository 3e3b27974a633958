package orders

import "context"

// Store persists orders. UpdateStatus is version-checked like every other
// mutation in this service and advances o.Version on success.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetByExternalID returns apperr.ErrNotFound when no order carries the key.
	GetByExternalID(ctx context.Context, externalID string) (*Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
	// Discard removes a Pending order whose placement was rolled back, freeing
	// its external id. It returns apperr.ErrNotFound for any other order.
	Discard(ctx context.Context, id string) error
}
