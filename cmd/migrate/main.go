package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db"
	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the IBOS database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "migrations directory for create/validate")

	root.AddCommand(
		dbCommand("up", "Apply all pending migrations", func(ctx context.Context, sqlDB *sql.DB, _ []string) error {
			return migrate.Run(ctx, sqlDB, "up")
		}),
		dbCommand("down", "Roll back the latest migration", func(ctx context.Context, sqlDB *sql.DB, _ []string) error {
			return migrate.Run(ctx, sqlDB, "down")
		}),
		dbCommand("status", "Print migration status", func(ctx context.Context, sqlDB *sql.DB, _ []string) error {
			return migrate.Run(ctx, sqlDB, "status")
		}),
		withArgs(dbCommand("version VERSION", "Migrate up or down to VERSION (YYYYMMDDHHMMSS)", func(ctx context.Context, sqlDB *sql.DB, args []string) error {
			return migrate.MigrateToVersion(ctx, sqlDB, args[0])
		}), cobra.ExactArgs(1)),
		&cobra.Command{
			Use:   "create NAME",
			Short: "Write an empty goose SQL migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := migrate.CreateSQLMigration(dir, args[0])
				if err != nil {
					return fmt.Errorf("failed to create migration: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check migration filenames and goose headers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.ValidateDir(dir); err != nil {
					return fmt.Errorf("migration validation failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
				return nil
			},
		},
	)
	return root
}

func withArgs(cmd *cobra.Command, args cobra.PositionalArgs) *cobra.Command {
	cmd.Args = args
	return cmd
}

// dbCommand builds a subcommand that needs config and an open database.
func dbCommand(use, short string, run func(ctx context.Context, sqlDB *sql.DB, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DB.IsSQLite() {
				return fmt.Errorf("goose migrations target postgres; sqlite databases are migrated on boot with IBOS_AUTO_MIGRATE")
			}

			logg := logger.New(logger.Options{
				ServiceName: "migrate",
				Level:       logger.ParseLevel(cfg.App.LogLevel),
				WarnStack:   cfg.App.LogWarnStack,
				Format:      cfg.App.LogFormat,
			})
			ctx := logg.WithFields(cmd.Context(), map[string]any{
				"env": cfg.App.Env,
				"cmd": cmd.Name(),
			})

			dbClient, err := db.New(ctx, cfg.DB, logg)
			if err != nil {
				logg.Error(ctx, "resource not working: database", err)
				return err
			}
			defer dbClient.Close()

			sqlDB, err := dbClient.DB().DB()
			if err != nil {
				return fmt.Errorf("sql database: %w", err)
			}

			logg.Info(ctx, "migrate ready")
			if err := run(ctx, sqlDB, args); err != nil {
				logg.Error(ctx, "migration command failed", err)
				return err
			}
			return nil
		},
	}
}
