package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
)

// CachedLocationStore caches city to region answers in Redis, including
// negative ones. City tables change rarely, store settings are never cached.
type CachedLocationStore struct {
	LocationStore
	rdb    *redis.Client
	logger *zap.Logger
}

func NewCachedLocationStore(next LocationStore, rdb *redis.Client, logger *zap.Logger) *CachedLocationStore {
	return &CachedLocationStore{LocationStore: next, rdb: rdb, logger: logger}
}

func (s *CachedLocationStore) RegionByCity(ctx context.Context, city string) (string, error) {
	key := fmt.Sprintf(redisx.KeyRegion, normalizeName(city))

	cached, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && cached == "":
		return "", apperr.NotFound("city", city)
	case err == nil:
		return cached, nil
	case !errors.Is(err, redis.Nil):
		logging.Debug(ctx, s.logger, "region cache read failed", zap.String("key", key), zap.Error(err))
	}

	region, err := s.LocationStore.RegionByCity(ctx, city)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		_ = s.rdb.Set(ctx, key, "", redisx.TTLRegion).Err()
		return "", err
	case err != nil:
		return "", err
	}
	if err := s.rdb.Set(ctx, key, region, redisx.TTLRegion).Err(); err != nil {
		logging.Debug(ctx, s.logger, "region cache write failed", zap.String("key", key), zap.Error(err))
	}
	return region, nil
}
