package shipping

import (
	"context"
	"sync"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

// LocationStore answers the location questions the resolver asks. Unknown
// cities and stores without a fee table are reported as apperr.ErrNotFound;
// any other error is treated as a degraded lookup.
type LocationStore interface {
	RegionByCity(ctx context.Context, city string) (string, error)
	// StoreSupportsRegion is true when the store ships to regionID. A store
	// with no region list ships everywhere.
	StoreSupportsRegion(ctx context.Context, storeID, regionID string) (bool, error)
	StoreConfig(ctx context.Context, storeID string) (*StoreConfig, error)
}

type MemoryLocationStore struct {
	mu      sync.RWMutex
	cities  map[string]string
	regions map[string]map[string]bool
	configs map[string]StoreConfig
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{
		cities:  map[string]string{},
		regions: map[string]map[string]bool{},
		configs: map[string]StoreConfig{},
	}
}

func (s *MemoryLocationStore) AddCity(city, regionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cities[normalizeName(city)] = regionID
}

func (s *MemoryLocationStore) SetStoreRegions(storeID string, regionIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(regionIDs))
	for _, id := range regionIDs {
		set[id] = true
	}
	s.regions[storeID] = set
}

func (s *MemoryLocationStore) PutStoreConfig(c StoreConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.StoreID] = c
}

func (s *MemoryLocationStore) RegionByCity(_ context.Context, city string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cities[normalizeName(city)]
	if !ok {
		return "", apperr.NotFound("city", city)
	}
	return id, nil
}

func (s *MemoryLocationStore) StoreSupportsRegion(_ context.Context, storeID, regionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.regions[storeID]
	if !ok || len(set) == 0 {
		return true, nil
	}
	return set[regionID], nil
}

func (s *MemoryLocationStore) StoreConfig(_ context.Context, storeID string) (*StoreConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[storeID]
	if !ok {
		return nil, apperr.NotFound("shipping config", storeID)
	}
	return &c, nil
}
