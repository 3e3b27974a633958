// Package retry makes optimistic, version-checked mutations look atomic to
// their callers. Work passed to the executor must re-read the entity it
// mutates on every attempt; only ErrVersionConflict is retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/metrics"
)

// ErrVersionConflict is returned by stores when a compare-and-swap on a
// version token finds a newer version than the one read.
var ErrVersionConflict = errors.New("version conflict")

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}
}

type Executor struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Executor{cfg: cfg, logger: logger}
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxAttempts-1)), ctx)
}

// ExecuteWithRetry runs work until it succeeds, fails with a non-conflict
// error, or MaxAttempts conflicts have been seen. Exhaustion is reported as
// apperr.ErrConcurrencyExhausted and must not be retried by callers.
func (e *Executor) ExecuteWithRetry(ctx context.Context, operation string, work func(ctx context.Context) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := work(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		metrics.VersionConflicts.WithLabelValues(operation).Inc()
		logging.Debug(ctx, e.logger, "version conflict, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
	}

	err := backoff.RetryNotify(op, e.newBackOff(ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		metrics.VersionConflicts.WithLabelValues(operation).Inc()
		metrics.ConcurrencyExhausted.WithLabelValues(operation).Inc()
		logging.Warn(ctx, e.logger, "concurrency retries exhausted",
			zap.String("operation", operation),
			zap.Int("attempts", attempts),
		)
		return fmt.Errorf("%s after %d attempts: %w", operation, attempts, apperr.ErrConcurrencyExhausted)
	}
	return err
}

// Do is ExecuteWithRetry for work that produces a value.
func Do[T any](ctx context.Context, e *Executor, operation string, work func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.ExecuteWithRetry(ctx, operation, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
