package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type Locker struct {
	RDB *redis.Client
}

// TryLock takes key for ttl using SET NX. ok is false when another holder
// owns it. unlock is non-nil only when ok is true.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.RDB.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.RDB, []string{key}, token).Err()
	}, true, nil
}

// Seen marks key as processed and reports whether it already was.
func Seen(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	ok, err := rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
