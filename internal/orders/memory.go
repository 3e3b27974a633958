package orders

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]Order{}}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ExternalID != "" {
		for _, cur := range s.orders {
			if cur.ExternalID == o.ExternalID {
				return ErrAlreadyExists
			}
		}
	}
	o.Version = 1
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	s.orders[o.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return &o, nil
}

func (s *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if externalID != "" && o.ExternalID == externalID {
			return &o, nil
		}
	}
	return nil, apperr.NotFound("order", externalID)
}

func (s *MemoryStore) ListByCustomer(_ context.Context, customerID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return apperr.NotFound("order", o.ID)
	}
	if cur.Version != o.Version {
		return retry.ErrVersionConflict
	}
	cur.Status = o.Status
	cur.UpdatedAt = o.UpdatedAt
	cur.Version++
	o.Version = cur.Version
	s.orders[o.ID] = cur
	return nil
}

func (s *MemoryStore) Discard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != StatusPending {
		return apperr.NotFound("pending order", id)
	}
	delete(s.orders, id)
	return nil
}
