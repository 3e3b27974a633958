package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

func newTestExecutor(attempts int) *Executor {
	return New(Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, zap.NewNop())
}

func TestExecuteWithRetry_SucceedsAfterConflicts(t *testing.T) {
	e := newTestExecutor(3)
	calls := 0

	err := e.ExecuteWithRetry(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update discount: %w", ErrVersionConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	e := newTestExecutor(3)
	calls := 0

	err := e.ExecuteWithRetry(context.Background(), "mark_used", func(ctx context.Context) error {
		calls++
		return ErrVersionConflict
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConcurrencyExhausted)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_OtherErrorsAreNotRetried(t *testing.T) {
	e := newTestExecutor(5)
	calls := 0
	boom := errors.New("boom")

	err := e.ExecuteWithRetry(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	e := New(Config{MaxAttempts: 10, InitialBackoff: time.Second, MaxBackoff: time.Second}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := e.ExecuteWithRetry(ctx, "test", func(ctx context.Context) error {
		calls++
		cancel()
		return ErrVersionConflict
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	e := newTestExecutor(2)
	calls := 0

	v, err := Do(context.Background(), e, "test", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, ErrVersionConflict
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
