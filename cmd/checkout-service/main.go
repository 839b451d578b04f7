package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/meal-checkout/internal/address"
	"github.com/fjod/meal-checkout/internal/cart/cache"
	"github.com/fjod/meal-checkout/internal/cart/poller"
	cartrepo "github.com/fjod/meal-checkout/internal/cart/repository"
	cartservice "github.com/fjod/meal-checkout/internal/cart/service"
	"github.com/fjod/meal-checkout/internal/checkout"
	"github.com/fjod/meal-checkout/internal/config"
	h "github.com/fjod/meal-checkout/internal/http"
	"github.com/fjod/meal-checkout/internal/logger"
	"github.com/fjod/meal-checkout/internal/metrics"
	"github.com/fjod/meal-checkout/internal/notify"
	"github.com/fjod/meal-checkout/internal/order"
	"github.com/fjod/meal-checkout/internal/order/publisher"
	orderrepo "github.com/fjod/meal-checkout/internal/order/repository"
	"github.com/fjod/meal-checkout/internal/payment"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/fjod/meal-checkout/internal/promo"
	"github.com/fjod/meal-checkout/internal/slots"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "checkout-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("checkout_service")

	engine, err := pricing.NewEngine(pricing.Config{
		TaxRate:               cfg.TaxRate,
		FreeDeliveryThreshold: cfg.FreeDeliveryThreshold,
	})
	if err != nil {
		return err
	}

	// Cart persistence
	var cartRepo cartrepo.CartRepository
	if cfg.MongoURI == "" {
		log.Warn("MONGO_URI not set, carts are kept in memory")
		cartRepo = cartrepo.NewMemoryRepository()
	} else {
		mongoDB, err := cartrepo.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return err
		}
		defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
		mongoRepo := cartrepo.NewMongoRepository(mongoDB)
		if err := mongoRepo.CreateIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create cart indexes: %w", err)
		}
		cartRepo = mongoRepo
		log.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed, cart cache and placement results degrade to the databases", zap.Error(err))
	}

	cartCache := cache.NewRedisCache(redisClient)
	carts := cartservice.NewCartService(cartRepo, cartCache, log.Named("cart"))

	// Orders and outbox
	creds := &orderrepo.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
	orders, err := orderrepo.NewRepository(creds)
	if err != nil {
		return err
	}
	defer func() { _ = orders.Close() }()
	if err := orders.RunMigrations(creds); err != nil {
		return fmt.Errorf("failed to run order migrations: %w", err)
	}
	log.Info("order migrations completed")

	// Address book
	if err := address.RunMigrations(cfg.Postgres.DSN(), cfg.Postgres.AddressMigrationsPath); err != nil {
		return fmt.Errorf("failed to run address migrations: %w", err)
	}
	pool, err := address.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		return err
	}
	defer pool.Close()
	addresses := address.NewRepository(pool)

	// Promo catalog
	promoRepo, err := promo.NewRepository(cfg.PromoDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = promoRepo.Close() }()
	if err := promoRepo.RunMigrations(cfg.PromoMigrationsPath); err != nil {
		return fmt.Errorf("failed to run promo migrations: %w", err)
	}

	// Delivery slots
	bands := slots.DefaultBands()
	if cfg.SlotBandsPath != "" {
		if bands, err = slots.LoadBands(cfg.SlotBandsPath); err != nil {
			return err
		}
	}
	capacity := slots.NewMemoryCapacity(slots.NewHashCapacity(cfg.CapacityAvailable))
	catalog, err := slots.NewCatalog(slots.Config{
		Bands:             bands,
		Location:          cfg.Location,
		HorizonDays:       cfg.SlotHorizonDays,
		ExpressFee:        cfg.ExpressFee,
		ExpressMinutes:    cfg.ExpressMinutes,
		CapacityTimeout:   cfg.CapacityTimeout,
		FallbackAvailable: cfg.CapacityFallback,
	}, capacity, log.Named("slots"))
	if err != nil {
		return err
	}

	// Payments and order submission
	tokenizer := payment.NewTokenizer(log.Named("payment"))
	processor := payment.NewProcessor(tokenizer, payment.RandomStatus{}, log.Named("payment"))
	orderService := order.NewService(order.ServiceConfig{
		Store:    orders,
		Pricing:  engine,
		Offers:   promoRepo,
		Slots:    catalog,
		Capacity: capacity,
		Payments: processor,
	}, log.Named("orders"))

	// Notifications
	kafkaNotifier := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBrokers...), 256, log.Named("notify"))
	notifier := notify.Multi{notify.NewLogNotifier(log.Named("notify")), kafkaNotifier}

	manager := checkout.NewManager(checkout.Config{
		Backend:     carts,
		Promos:      promo.NewResolver(promoRepo, log.Named("promo")),
		Pricing:     engine,
		Slots:       catalog,
		Addresses:   addresses,
		CartTimeout: cfg.CartTimeout,
		Recorder:    m,
	}, log.Named("checkout"))

	placer := order.NewPlacer(order.PlacerConfig{
		Submitter: orderService,
		Results:   order.NewIdempotencyStore(redisClient, 0),
		Pricing:   engine,
		Notifier:  notifier,
		Recorder:  m,
		Timeout:   cfg.OrderTimeout,
		Currency:  cfg.Currency,
	}, log.Named("placer"))

	router := h.NewRouter(h.RouterConfig{
		Service:        cfg.ServiceName,
		Checkout:       h.NewCheckoutHandler(manager, catalog, placer, tokenizer, cfg.RequestTimeout, log.Named("http")),
		Addresses:      h.NewAddressesHandler(addresses, cfg.RequestTimeout, log.Named("http")),
		Orders:         h.NewOrdersHandler(orderService, cfg.RequestTimeout, log.Named("http")),
		Payments:       h.NewPaymentHandler(tokenizer, cfg.RequestTimeout, log.Named("http")),
		Observer:       m,
		MetricsHandler: m.Handler(),
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	outbox := publisher.NewOutboxPoller(orders, publisher.NewKafkaWriter(cfg.KafkaBrokers...), log.Named("outbox"))
	cartCleaner := poller.NewPoller(cartRepo, cartCache, poller.NewKafkaReader(cfg.KafkaBrokers), log.Named("cart-poller"),
		poller.WithCartChanged(manager.CartChanged))

	g, gctx := errgroup.WithContext(ctx)
	kafkaNotifier.Start(gctx)
	g.Go(func() error {
		outbox.Run(gctx)
		return outbox.Close()
	})
	g.Go(func() error {
		cartCleaner.Run(gctx)
		cartCleaner.Close()
		return nil
	})
	g.Go(func() error {
		processor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		tokenizer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("checkout service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down checkout service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	kafkaNotifier.WaitClosed()
	log.Info("checkout service stopped")
	return err
}
