package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

// MemoryStore keeps products and reservations in process. It implements
// Store and ProductStore with the same version checks as the PostgreSQL
// repos and backs STORE_DRIVER=memory as well as unit tests.
type MemoryStore struct {
	mu           sync.Mutex
	products     map[string]Product
	reservations map[string]Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     map[string]Product{},
		reservations: map[string]Reservation{},
	}
}

// PutProduct inserts or replaces p, bumping its version when it already exists.
func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.products[p.ID]; ok {
		p.Version = old.Version + 1
	}
	s.products[p.ID] = p
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	return &p, nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []string) (map[string]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, r *Reservation, productVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[r.ProductID]
	if !ok {
		return apperr.NotFound("product", r.ProductID)
	}
	if p.Version != productVersion {
		return retry.ErrVersionConflict
	}
	p.Version++
	s.products[p.ID] = p

	r.Version = 1
	s.reservations[r.ID] = *r
	return nil
}

func (s *MemoryStore) Update(_ context.Context, r *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[r.ID]
	if !ok {
		return apperr.NotFound("reservation", r.ID)
	}
	if cur.Version != r.Version {
		return retry.ErrVersionConflict
	}
	r.Version++
	s.reservations[r.ID] = *r
	return nil
}

func (s *MemoryStore) ConfirmAll(_ context.Context, rs []*Reservation, productVersions map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := make(map[string]int, len(productVersions))
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		cur, ok := s.reservations[r.ID]
		if !ok {
			return apperr.NotFound("reservation", r.ID)
		}
		if seen[r.ID] || cur.Version != r.Version {
			return retry.ErrVersionConflict
		}
		seen[r.ID] = true
		need[r.ProductID] += r.Quantity
	}
	for id, qty := range need {
		p, ok := s.products[id]
		if !ok {
			return apperr.NotFound("product", id)
		}
		v, ok := productVersions[id]
		if !ok || p.Version != v || p.OnHand < qty {
			return retry.ErrVersionConflict
		}
	}

	for id, qty := range need {
		p := s.products[id]
		p.OnHand -= qty
		p.Version++
		s.products[id] = p
	}
	for _, r := range rs {
		r.Version++
		s.reservations[r.ID] = *r
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string, includeDeleted bool) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok || (r.Deleted && !includeDeleted) {
		return nil, apperr.NotFound("reservation", id)
	}
	return &r, nil
}

func (s *MemoryStore) ListByProduct(_ context.Context, productID string) ([]Reservation, error) {
	return s.filter(func(r Reservation) bool { return r.ProductID == productID }, 0), nil
}

func (s *MemoryStore) ListByCustomer(_ context.Context, customerID string) ([]Reservation, error) {
	return s.filter(func(r Reservation) bool { return r.CustomerID == customerID }, 0), nil
}

func (s *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]Reservation, error) {
	return s.filter(func(r Reservation) bool { return r.OrderID == orderID }, 0), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Reservation, error) {
	return s.filter(func(r Reservation) bool { return r.Status == status }, limit), nil
}

func (s *MemoryStore) ListExpiredBefore(_ context.Context, t time.Time, limit int) ([]Reservation, error) {
	return s.filter(func(r Reservation) bool {
		return r.Status == StatusPending && r.ExpiresAt.Before(t)
	}, limit), nil
}

func (s *MemoryStore) ReservedQuantities(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(productIDs))
	want := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
		want[id] = true
	}
	for _, r := range s.reservations {
		if r.Status == StatusPending && !r.Deleted && want[r.ProductID] {
			out[r.ProductID] += r.Quantity
		}
	}
	return out, nil
}

// filter returns non-deleted reservations matching keep, oldest first.
func (s *MemoryStore) filter(keep func(Reservation) bool, limit int) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.reservations {
		if !r.Deleted && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
