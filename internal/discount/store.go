package discount

import (
	"context"
	"time"
)

// Store persists discounts. Update, MarkUsed and SoftDelete compare the stored
// version with d.Version, fail with retry.ErrVersionConflict on mismatch and
// advance d.Version on success. Deleted rows are invisible unless asked for.
type Store interface {
	GetByCode(ctx context.Context, code string) (*Discount, error)
	GetByID(ctx context.Context, id string, includeDeleted bool) (*Discount, error)
	// ListValidBetween returns active discounts whose window overlaps [from, to].
	ListValidBetween(ctx context.Context, from, to time.Time) ([]Discount, error)
	ListByStore(ctx context.Context, storeID string) ([]Discount, error)
	// CodeExists reports whether another live discount (other than excludeID)
	// already uses code, compared case-insensitively.
	CodeExists(ctx context.Context, code, excludeID string) (bool, error)

	Create(ctx context.Context, d *Discount) error
	Update(ctx context.Context, d *Discount) error
	MarkUsed(ctx context.Context, d *Discount) error
	SoftDelete(ctx context.Context, d *Discount) error
}
