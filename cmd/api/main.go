package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/monidesk/ibos-backend/api/routes"
	"github.com/monidesk/ibos-backend/internal/checkout"
	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/internal/payments"
	"github.com/monidesk/ibos-backend/internal/possync"
	"github.com/monidesk/ibos-backend/internal/shipping"
	"github.com/monidesk/ibos-backend/pkg/auth/session"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db"
	"github.com/monidesk/ibos-backend/pkg/instance"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
	"github.com/monidesk/ibos-backend/pkg/migrate"
	"github.com/monidesk/ibos-backend/pkg/outbox"
	"github.com/monidesk/ibos-backend/pkg/redis"
	"github.com/monidesk/ibos-backend/pkg/resilience"
	"github.com/monidesk/ibos-backend/pkg/square"
	"github.com/monidesk/ibos-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Instance:    instance.ID(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create session manager", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	commerceMetrics := metrics.NewCommerceMetrics(registry)

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(dbClient.DB()),
		TxRunner: dbClient,
		Outbox:   emitter,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create inventory service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:            orders.NewRepository(dbClient.DB()),
		Inventory:       inventoryService,
		TxRunner:        dbClient,
		Outbox:          emitter,
		Metrics:         commerceMetrics,
		Logger:          logg,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
	})
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	provider, err := payments.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to create payment provider", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repo:     checkout.NewRepository(dbClient.DB()),
		Stock:    inventoryService,
		Orders:   ordersService,
		Provider: provider,
		TxRunner: dbClient,
		Outbox:   emitter,
		Metrics:  commerceMetrics,
		Logger:   logg,
		Config:   cfg.Checkout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	syncService, err := possync.NewService(possync.ServiceParams{
		Repo:     possync.NewRepository(dbClient.DB()),
		Orders:   ordersService,
		Stock:    inventoryService,
		TxRunner: dbClient,
		Outbox:   emitter,
		Metrics:  commerceMetrics,
		Logger:   logg,
		Config:   cfg.Sync,
	})
	if err != nil {
		logg.Error(ctx, "failed to create pos sync service", err)
		os.Exit(1)
	}

	carrier, err := shipping.NewCarrier(cfg.Shipping, cfg.Checkout.PublicBaseURL)
	if err != nil {
		logg.Error(ctx, "failed to create shipping carrier", err)
		os.Exit(1)
	}
	shippingService, err := shipping.NewService(shipping.ServiceParams{
		Orders:  ordersService,
		Carrier: carrier,
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "shipping." + carrier.Code()}, logg),
		Config:  cfg.Shipping,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create shipping service", err)
		os.Exit(1)
	}

	deps := routes.Deps{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		Sessions:  sessionManager,
		Metrics:   registry,
		Inventory: inventoryService,
		Orders:    ordersService,
		Checkout:  checkoutService,
		Sync:      syncService,
		Shipping:  shippingService,
	}
	if cfg.Stripe.APIKey != "" && cfg.Stripe.Secret != "" {
		stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			logg.Error(ctx, "failed to create stripe client", err)
			os.Exit(1)
		}
		deps.Stripe = stripeClient
	}
	if cfg.Square.AccessToken != "" && cfg.Square.WebhookSignatureKey != "" {
		squareClient, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			logg.Error(ctx, "failed to create square client", err)
			os.Exit(1)
		}
		deps.Square = squareClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":              cfg.App.Env,
		"addr":             addr,
		"payment_provider": provider.Name(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Checkout.ExpireInProcess {
		group.Go(func() error {
			runExpiryLoop(groupCtx, logg, checkoutService, cfg.Checkout.ExpireInterval)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

// runExpiryLoop expires lapsed checkout sessions on a ticker until ctx ends.
func runExpiryLoop(ctx context.Context, logg *logger.Logger, svc checkout.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := svc.ExpireStaleSessions(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					logg.Error(ctx, "checkout.expiry_failed", err)
				}
				continue
			}
			if expired > 0 {
				logg.Info(logg.WithField(ctx, "expired", expired), "checkout.sessions_expired")
			}
		}
	}
}
