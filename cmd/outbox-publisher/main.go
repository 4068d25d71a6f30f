package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/monidesk/ibos-backend/internal/messaging"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/instance"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
	"github.com/monidesk/ibos-backend/pkg/migrate"
	"github.com/monidesk/ibos-backend/pkg/outbox"
	"github.com/monidesk/ibos-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Publish outbox events to Pub/Sub and forward notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublisher()
		},
	}
	root.AddCommand(newDLQCommand())
	return root
}

// bootstrap loads config and opens the database shared by every subcommand.
func bootstrap(ctx context.Context) (*config.Config, *logger.Logger, *db.Client, error) {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Instance:    instance.ID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap database: %w", err)
	}
	return cfg, logg, dbClient, nil
}

func runPublisher() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logg, dbClient, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	router, err := outbox.NewTopicRouter(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build topic router: %w", err)
	}
	notifier, err := messaging.New(cfg.Messaging, pubsub.Wrap(pubsubClient.NotificationPublisher()), logg)
	if err != nil {
		return fmt.Errorf("build messaging sender: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Router:        router,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Notifier:      notifier,
		Metrics:       metrics.NewOutboxMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("create outbox publisher: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"sender":      notifier.Name(),
	})
	logg.Info(ctx, "starting outbox publisher")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(groupCtx)
	})
	if cfg.App.MetricsAddr != "" {
		group.Go(func() error {
			return metrics.Serve(groupCtx, cfg.App.MetricsAddr, registry, logg)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return err
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}

func newDLQCommand() *cobra.Command {
	var (
		reason string
		limit  int
	)
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered outbox events",
	}
	dlq.PersistentFlags().StringVar(&reason, "reason", "", "only entries with this error reason (max_attempts, non_retryable)")
	dlq.PersistentFlags().IntVar(&limit, "limit", 50, "maximum entries to consider")

	dlq.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the newest dead letters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDLQ(cmd.Context(), func(repo *outbox.DLQRepository) error {
					filter, err := dlqFilter(reason, limit)
					if err != nil {
						return err
					}
					rows, err := repo.List(cmd.Context(), filter)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "EVENT_ID\tEVENT_TYPE\tREASON\tATTEMPTS\tFAILED_AT")
					for _, row := range rows {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.Format(time.RFC3339))
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "replay [EVENT_ID...]",
			Short: "Put dead-lettered events back in the publish queue",
			Long:  "Without event ids, replays every entry matching --reason up to --limit.",
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseEventIDs(args)
				if err != nil {
					return err
				}
				return withDLQ(cmd.Context(), func(repo *outbox.DLQRepository) error {
					if len(ids) == 0 {
						filter, err := dlqFilter(reason, limit)
						if err != nil {
							return err
						}
						rows, err := repo.List(cmd.Context(), filter)
						if err != nil {
							return err
						}
						for _, row := range rows {
							ids = append(ids, row.EventID)
						}
					}
					n, err := repo.Replay(cmd.Context(), ids)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "replayed %d of %d events\n", n, len(ids))
					return nil
				})
			},
		},
	)
	return dlq
}

func withDLQ(ctx context.Context, fn func(*outbox.DLQRepository) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, logg, dbClient, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	return fn(outbox.NewDLQRepository(dbClient.DB()))
}

func dlqFilter(reason string, limit int) (outbox.DLQFilter, error) {
	parsed, err := enums.ParseOutboxDLQErrorReason(reason)
	if err != nil {
		return outbox.DLQFilter{}, err
	}
	return outbox.DLQFilter{Reason: parsed, Limit: limit}, nil
}

func parseEventIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid event id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
