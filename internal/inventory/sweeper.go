package inventory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/events"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/metrics"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
)

// Locker serialises sweeps across instances. *redisx.Locker implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context), ok bool, err error)
}

// Sweeper periodically expires pending reservations whose TTL has passed.
// It talks to reservations only through the Manager, never from request code.
type Sweeper struct {
	manager  *Manager
	locker   Locker
	emitter  *events.Emitter
	logger   *zap.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

type SweeperConfig struct {
	Interval time.Duration
	Batch    int
}

// NewSweeper builds a sweeper. locker and emitter may be nil for a single
// instance without Kafka.
func NewSweeper(m *Manager, locker Locker, emitter *events.Emitter, logger *zap.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	return &Sweeper{
		manager:  m,
		locker:   locker,
		emitter:  emitter,
		logger:   logger,
		interval: cfg.Interval,
		batch:    cfg.Batch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	logging.Info(ctx, s.logger, "reservation sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, s.logger, "reservation sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logging.Error(ctx, s.logger, "reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires one batch and returns how many reservations moved to
// Expired. Rows confirmed or released since they were listed are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "inventory.SweepOnce")
	defer span.End()

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, redisx.KeySweepLock, s.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			logging.Debug(ctx, s.logger, "sweep lock held elsewhere, skipping")
			return 0, nil
		}
		defer unlock(context.WithoutCancel(ctx))
	}

	now := s.now()
	due, err := s.manager.store.ListExpiredBefore(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	expired := 0
	for _, r := range due {
		res, err := s.manager.ExpireReservation(ctx, r.ID, now)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotYetExpired):
			logging.Debug(ctx, s.logger, "reservation changed before expiry",
				zap.String("reservation_id", r.ID), zap.Error(err))
			continue
		default:
			logging.Warn(ctx, s.logger, "expire reservation failed",
				zap.String("reservation_id", r.ID), zap.Error(err))
			continue
		}

		expired++
		metrics.ReservationsExpired.Inc()
		s.emitter.Emit(ctx, events.EventReservationExpired, res.ID, events.ReservationExpiredPayload{
			ReservationID: res.ID,
			ProductID:     res.ProductID,
			CustomerID:    res.CustomerID,
			Qty:           res.Quantity,
			ExpiresAt:     res.ExpiresAt,
		})
	}

	logging.Info(ctx, s.logger, "reservation sweep done",
		zap.Int("due", len(due)),
		zap.Int("expired", expired),
	)
	return expired, nil
}
