package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/logging"
)

// Handler returns nil only when the message was processed and its offset
// may be committed. Errors are retried in place; wrap one with
// backoff.Permanent to give up on the message and move past it.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	logger  *zap.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return newConsumer(r, workers, logger.With(zap.String("topic", topic), zap.String("group", group)))
}

func newConsumer(r reader, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:            r,
		workers:      workers,
		logger:       logger,
		retryInitial: 200 * time.Millisecond,
		retryMax:     10 * time.Second,
	}
}

// Start fetches messages until ctx is cancelled. Each partition is pinned to
// one worker, so its messages are handled and committed in offset order. A
// failing message is retried until it succeeds, holding back its worker's
// lane (and the fetch loop once that lane is full). An offset is never
// committed past an unhandled message.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, id, m, h) {
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					logging.Error(ctx, c.logger, "commit failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}(i, lanes[i])
	}
	defer wg.Wait()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle runs h until it succeeds or gives up on m. It reports whether the
// offset may be committed; false only once ctx is done.
func (c *Consumer) handle(ctx context.Context, worker int, m kafka.Message, h Handler) bool {
	if ctx.Err() != nil {
		return false
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		logging.Warn(ctx, c.logger, "handler failed, retrying",
			zap.Int("worker", worker),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(func() error { return h(ctx, m) }, backoff.WithContext(b, ctx), notify)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	// with no elapsed-time cap only a permanent error ends the loop early
	logging.Error(ctx, c.logger, "message skipped",
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.Error(err),
	)
	return true
}
