package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/config"
	"github.com/ariefcatur/marketplace-pricing/internal/events"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	kafkax "github.com/ariefcatur/marketplace-pricing/internal/kafka"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/metrics"
	"github.com/ariefcatur/marketplace-pricing/internal/postgres"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
	"github.com/ariefcatur/marketplace-pricing/internal/tracing"
)

// The inventory worker owns the background side of stock holds: the expiry
// sweeper and the checkout.abandoned consumer. It always runs on postgres.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	serviceName := cfg.ServiceName + "-inventory"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(ctx, serviceName, cfg.Tracing.Endpoint, cfg.Env)
		if err != nil {
			logger.Fatal("tracing init", zap.Error(err))
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}
	metrics.Register(prometheus.DefaultRegisterer)

	db, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	exec := retry.New(retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, logger)
	manager := inventory.NewManager(&inventory.ReservationRepo{DB: db}, &inventory.ProductRepo{DB: db}, exec, logger)

	expired := kafkax.NewProducer(cfg.Kafka.Brokers, events.TopicReservationExpired, 1024, logger)
	expired.Start(ctx)
	emitter := &events.Emitter{Pub: expired, ServiceName: serviceName, Logger: logger}

	sweeper := inventory.NewSweeper(manager, &redisx.Locker{RDB: rdb}, emitter, logger, inventory.SweeperConfig{
		Interval: cfg.Reservation.SweepInterval,
		Batch:    cfg.Reservation.SweepBatch,
	})

	svc := &inventory.Service{
		Manager:     manager,
		Redis:       rdb,
		ServiceName: serviceName,
		Logger:      logger,
	}
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, events.TopicCheckoutAbandoned, cfg.Kafka.Workers, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		logger.Info("consumer started",
			zap.String("group", cfg.Kafka.ConsumerGroup),
			zap.String("topic", events.TopicCheckoutAbandoned),
			zap.Int("workers", cfg.Kafka.Workers),
		)
		if err := cons.Start(ctx, svc.HandleCheckoutAbandoned); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down inventory worker")
	cancel()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
	expired.Close()
	expired.WaitClosed()
}
