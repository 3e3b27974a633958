package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/events"
	kafkax "github.com/ariefcatur/marketplace-pricing/internal/kafka"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
)

// Service reacts to storefront events that concern stock holds.
type Service struct {
	Manager     *Manager
	Redis       *redis.Client // optional, enables event dedup
	ServiceName string
	Logger      *zap.Logger
}

// HandleCheckoutAbandoned is installed as the checkout.abandoned consumer
// handler. It returns nil only when the offset may be committed.
func (s *Service) HandleCheckoutAbandoned(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && t != events.EventCheckoutAbandoned {
		return nil
	}
	var env events.Envelope
	if err := kafkax.DecodeEnvelope(m.Value, &env); err != nil {
		logging.Warn(ctx, s.Logger, "drop undecodable message", zap.Error(err), zap.Int64("offset", m.Offset))
		return nil
	}
	if env.EventType != events.EventCheckoutAbandoned {
		return nil
	}

	var dkey string
	if s.Redis != nil {
		dkey = fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		seen, err := redisx.Seen(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	p, err := kafkax.DecodePayload[events.CheckoutAbandonedPayload](env.Payload)
	if err != nil {
		logging.Warn(ctx, s.Logger, "drop checkout event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	released, err := s.ReleaseAbandoned(ctx, p)
	if err != nil {
		if dkey != "" {
			_ = s.Redis.Del(ctx, dkey).Err()
		}
		return err
	}

	logging.Info(ctx, s.Logger, "abandoned checkout released",
		zap.String("event_id", env.EventID),
		zap.String("customer_id", p.CustomerID),
		zap.Int("released", released),
	)
	return nil
}

// ReleaseAbandoned releases the holds named by p. Holds that are already
// terminal or gone are skipped.
func (s *Service) ReleaseAbandoned(ctx context.Context, p events.CheckoutAbandonedPayload) (int, error) {
	ids := p.ReservationIDs
	if len(ids) == 0 && p.ExternalReference != "" {
		if p.CustomerID == "" {
			return 0, apperr.Validation("customer id is required to release by reference")
		}
		rs, err := s.Manager.ListByCustomer(ctx, p.CustomerID)
		if err != nil {
			return 0, err
		}
		for _, r := range rs {
			if r.ExternalReference == p.ExternalReference && r.Status == StatusPending {
				ids = append(ids, r.ID)
			}
		}
	}

	released := 0
	for _, id := range ids {
		_, err := s.Manager.ReleaseReservation(ctx, id)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrInvalidState), errors.Is(err, apperr.ErrNotFound):
		default:
			return released, err
		}
	}
	return released, nil
}
