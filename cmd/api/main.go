package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/config"
	"github.com/ariefcatur/marketplace-pricing/internal/discount"
	"github.com/ariefcatur/marketplace-pricing/internal/events"
	"github.com/ariefcatur/marketplace-pricing/internal/httpx"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	kafkax "github.com/ariefcatur/marketplace-pricing/internal/kafka"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/metrics"
	"github.com/ariefcatur/marketplace-pricing/internal/orders"
	"github.com/ariefcatur/marketplace-pricing/internal/postgres"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
	"github.com/ariefcatur/marketplace-pricing/internal/shipping"
	"github.com/ariefcatur/marketplace-pricing/internal/tracing"
)

type stores struct {
	reservations inventory.Store
	products     inventory.ProductStore
	discounts    discount.Store
	locations    shipping.LocationStore
	orders       orders.Store
}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.Tracing.Endpoint, cfg.Env)
		if err != nil {
			logger.Fatal("tracing init", zap.Error(err))
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}
	metrics.Register(prometheus.DefaultRegisterer)

	baseFee, err := decimal.NewFromString(cfg.Shipping.DefaultBaseFee)
	if err != nil {
		logger.Fatal("shipping default base fee", zap.String("value", cfg.Shipping.DefaultBaseFee), zap.Error(err))
	}

	var (
		st      stores
		rdb     *redis.Client
		emitter *events.Emitter
		prods   []*kafkax.Producer
	)
	switch cfg.StoreDriver {
	case "memory":
		inv := inventory.NewMemoryStore()
		st = stores{
			reservations: inv,
			products:     inv,
			discounts:    discount.NewMemoryStore(),
			locations:    shipping.NewMemoryLocationStore(),
			orders:       orders.NewMemoryStore(),
		}
		logger.Warn("running with in-memory stores; data is lost on exit")
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()

		rdb = redisx.New(cfg.Redis.Addr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}

		st = stores{
			reservations: &inventory.ReservationRepo{DB: db},
			products:     &inventory.ProductRepo{DB: db},
			discounts:    &discount.DiscountRepo{DB: db},
			locations: shipping.NewBreakerLocationStore(
				shipping.NewCachedLocationStore(&shipping.LocationRepo{DB: db}, rdb, logger), logger),
			orders: &orders.Repo{DB: db},
		}

		placed := kafkax.NewProducer(cfg.Kafka.Brokers, events.TopicOrderPlaced, 1024, logger)
		changed := kafkax.NewProducer(cfg.Kafka.Brokers, events.TopicOrderStatusChanged, 1024, logger)
		for _, p := range []*kafkax.Producer{placed, changed} {
			p.Start(ctx)
			prods = append(prods, p)
		}
		emitter = &events.Emitter{
			Pub:         placed,
			ByType:      map[string]events.Publisher{events.EventOrderStatusChanged: changed},
			ServiceName: cfg.ServiceName,
			Logger:      logger,
		}
	default:
		logger.Fatal("unknown store driver", zap.String("driver", cfg.StoreDriver))
	}

	exec := retry.New(retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, logger)

	manager := inventory.NewManager(st.reservations, st.products, exec, logger)
	resolver := shipping.NewResolver(st.locations, shipping.Config{
		SupportedCountry: cfg.Shipping.SupportedCountry,
		DefaultBaseFee:   baseFee,
	}, logger)
	validator := discount.NewValidator(st.discounts, exec, logger)
	calc := orders.NewCalculator(manager, resolver, validator, logger)
	svc := orders.NewService(orders.ServiceConfig{
		Store:      st.orders,
		Calculator: calc,
		Holds:      manager,
		Discounts:  validator,
		Exec:       exec,
		Logger:     logger,
		Redis:      rdb,
		Emitter:    emitter,
		HoldTTL:    cfg.Reservation.TTL,
	})

	router := httpx.NewRouter(logger, prometheus.DefaultGatherer, cfg.HTTP.Timeout)
	(&httpx.OrdersHandler{Orders: svc, Logger: logger}).Register(router)
	(&httpx.InventoryHandler{Manager: manager, DefaultTTL: cfg.Reservation.TTL, Logger: logger}).Register(router)
	(&httpx.DiscountsHandler{Discounts: discount.NewService(st.discounts, exec, logger), Validator: validator, Logger: logger}).Register(router)
	(&httpx.ShippingHandler{Resolver: resolver, Logger: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("driver", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	for _, p := range prods {
		p.Close()
		p.WaitClosed()
	}
}
