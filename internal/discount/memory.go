package discount

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

// MemoryStore is an in-process Store with the same version semantics as
// DiscountRepo.
type MemoryStore struct {
	mu        sync.Mutex
	discounts map[string]Discount
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{discounts: map[string]Discount{}}
}

func (s *MemoryStore) GetByCode(_ context.Context, code string) (*Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = NormalizeCode(code)
	for _, d := range s.discounts {
		if !d.Deleted && d.Code == code {
			return &d, nil
		}
	}
	return nil, apperr.NotFound("discount", code)
}

func (s *MemoryStore) GetByID(_ context.Context, id string, includeDeleted bool) (*Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discounts[id]
	if !ok || (d.Deleted && !includeDeleted) {
		return nil, apperr.NotFound("discount", id)
	}
	return &d, nil
}

func (s *MemoryStore) ListValidBetween(_ context.Context, from, to time.Time) ([]Discount, error) {
	return s.filter(func(d Discount) bool {
		return d.IsActive && !d.ValidFrom.After(to) && !d.ValidTo.Before(from)
	}), nil
}

func (s *MemoryStore) ListByStore(_ context.Context, storeID string) ([]Discount, error) {
	return s.filter(func(d Discount) bool {
		return d.ApplicableStoreID != nil && *d.ApplicableStoreID == storeID
	}), nil
}

func (s *MemoryStore) CodeExists(_ context.Context, code, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = NormalizeCode(code)
	for _, d := range s.discounts {
		if !d.Deleted && d.Code == code && d.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Create(_ context.Context, d *Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.discounts {
		if !cur.Deleted && cur.Code == d.Code {
			return ErrDuplicateCode
		}
	}
	d.Version = 1
	s.discounts[d.ID] = *d
	return nil
}

func (s *MemoryStore) Update(_ context.Context, d *Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.discounts[d.ID]
	if !ok || cur.Deleted {
		return apperr.NotFound("discount", d.ID)
	}
	if cur.Version != d.Version {
		return retry.ErrVersionConflict
	}
	for id, other := range s.discounts {
		if id != d.ID && !other.Deleted && other.Code == d.Code {
			return ErrDuplicateCode
		}
	}
	d.Version++
	s.discounts[d.ID] = *d
	return nil
}

// MarkUsed writes only the usage fields.
func (s *MemoryStore) MarkUsed(_ context.Context, d *Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.discounts[d.ID]
	if !ok || cur.Deleted {
		return apperr.NotFound("discount", d.ID)
	}
	if cur.Version != d.Version {
		return retry.ErrVersionConflict
	}
	cur.IsUsed = d.IsUsed
	cur.UsageCount = d.UsageCount
	cur.UpdatedAt = d.UpdatedAt
	cur.Version++
	d.Version = cur.Version
	s.discounts[d.ID] = cur
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, d *Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.discounts[d.ID]
	if !ok || cur.Deleted {
		return apperr.NotFound("discount", d.ID)
	}
	if cur.Version != d.Version {
		return retry.ErrVersionConflict
	}
	cur.Deleted = true
	cur.DeletedAt = d.DeletedAt
	cur.DeletedBy = d.DeletedBy
	cur.DeleteReason = d.DeleteReason
	cur.IsActive = false
	cur.Version++
	d.Version = cur.Version
	s.discounts[d.ID] = cur
	return nil
}

func (s *MemoryStore) filter(keep func(Discount) bool) []Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Discount
	for _, d := range s.discounts {
		if !d.Deleted && keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
