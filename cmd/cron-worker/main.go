package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/monidesk/ibos-backend/internal/checkout"
	"github.com/monidesk/ibos-backend/internal/cron"
	"github.com/monidesk/ibos-backend/internal/inventory"
	"github.com/monidesk/ibos-backend/internal/orders"
	"github.com/monidesk/ibos-backend/internal/payments"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db"
	"github.com/monidesk/ibos-backend/pkg/instance"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
	"github.com/monidesk/ibos-backend/pkg/migrate"
	"github.com/monidesk/ibos-backend/pkg/outbox"
	"github.com/monidesk/ibos-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	checkoutService, err := buildCheckout(ctx, cfg, logg, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewCheckoutExpiryJob(cron.CheckoutExpiryJobParams{
		Logger:   logg,
		Checkout: checkoutService,
	})
	if err != nil {
		logg.Error(ctx, "failed to create checkout expiry job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox retention job", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(expiryJob, retentionJob)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+envName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(metricsRegistry),
		Schedule: cfg.Cron.Schedule,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"schedule": cfg.Cron.Schedule,
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(groupCtx)
	})
	if cfg.App.MetricsAddr != "" {
		group.Go(func() error {
			return metrics.Serve(groupCtx, cfg.App.MetricsAddr, metricsRegistry, logg)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildCheckout assembles the checkout service with the same ledger, order
// and provider wiring the API uses, so expiry emits identical events.
func buildCheckout(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (checkout.Service, error) {
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(dbClient.DB()),
		TxRunner: dbClient,
		Outbox:   emitter,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:            orders.NewRepository(dbClient.DB()),
		Inventory:       inventoryService,
		TxRunner:        dbClient,
		Outbox:          emitter,
		Logger:          logg,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
	})
	if err != nil {
		return nil, err
	}
	provider, err := payments.New(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	return checkout.NewService(checkout.ServiceParams{
		Repo:     checkout.NewRepository(dbClient.DB()),
		Stock:    inventoryService,
		Orders:   ordersService,
		Provider: provider,
		TxRunner: dbClient,
		Outbox:   emitter,
		Logger:   logg,
		Config:   cfg.Checkout,
	})
}

func envName(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
