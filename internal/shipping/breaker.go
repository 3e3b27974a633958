package shipping

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
)

// BreakerLocationStore stops calling a failing location backend for a while.
// When the breaker is open every lookup fails fast and the resolver degrades
// to the static table.
type BreakerLocationStore struct {
	next LocationStore
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerLocationStore(next LocationStore, logger *zap.Logger) *BreakerLocationStore {
	settings := gobreaker.Settings{
		Name:        "LocationStore",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// a missing city or config is an answer, not a backend failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperr.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warn(context.Background(), logger, "circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerLocationStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}

func (s *BreakerLocationStore) RegionByCity(ctx context.Context, city string) (string, error) {
	return executeWithBreaker(s.cb, func() (string, error) {
		return s.next.RegionByCity(ctx, city)
	})
}

func (s *BreakerLocationStore) StoreSupportsRegion(ctx context.Context, storeID, regionID string) (bool, error) {
	return executeWithBreaker(s.cb, func() (bool, error) {
		return s.next.StoreSupportsRegion(ctx, storeID, regionID)
	})
}

func (s *BreakerLocationStore) StoreConfig(ctx context.Context, storeID string) (*StoreConfig, error) {
	return executeWithBreaker(s.cb, func() (*StoreConfig, error) {
		return s.next.StoreConfig(ctx, storeID)
	})
}

func (s *BreakerLocationStore) State() gobreaker.State { return s.cb.State() }
