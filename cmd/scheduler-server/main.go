package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/scheduler/internal/config"
	"github.com/ehr/scheduler/internal/domain/scheduling"
	"github.com/ehr/scheduler/internal/platform/db"
	"github.com/ehr/scheduler/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scheduler-server",
		Short: "Provider availability and appointment booking API",
	}
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "Env files loaded before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "scheduler").Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL migrations",
	}

	open := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, nil, err
		}
		if cfg.StorageDriver != config.DriverPostgres {
			return nil, nil, fmt.Errorf("migrate needs STORAGE_DRIVER=%s, got %q (sqlite applies its schema on startup)",
				config.DriverPostgres, cfg.StorageDriver)
		}
		pool, err := db.NewPool(cmd.Context(), db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: 2,
			AppName:  "scheduler-migrate",
		})
		if err != nil {
			return nil, nil, err
		}
		schema, _ := cmd.Flags().GetString("schema")
		var files fs.FS = migrations.FS
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			files = os.DirFS(dir)
		}
		return db.NewMigrator(pool, files, schema), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s)\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create availabilities from a YAML seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if file, _ := cmd.Flags().GetString("file"); file != "" {
				cfg.SeedFile = file
			}
			if cfg.SeedFile == "" {
				return fmt.Errorf("no seed file: pass --file or set SEED_FILE")
			}

			logger := newLogger(cfg)
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			report, err := seedFrom(cmd.Context(), a.svc, cfg.SeedFile)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d availability(ies) with %d instance(s), skipped %d\n",
				report.Created, report.Instances, report.Skipped)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Seed file (defaults to SEED_FILE)")
	return cmd
}

func seedFrom(ctx context.Context, svc *scheduling.Service, path string) (*scheduling.SeedReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return scheduling.Seed(ctx, svc, f)
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if cfg.SeedFile != "" {
		if _, err := seedFrom(ctx, a.svc, cfg.SeedFile); err != nil {
			return err
		}
	}

	go scheduling.NewSweeper(a.svc, cfg.CompletionInterval, logger).Run(ctx)

	e := a.routes()
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("driver", cfg.StorageDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
