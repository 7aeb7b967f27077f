package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careloop/careloop/internal/config"
	"github.com/careloop/careloop/internal/domain/event"
	"github.com/careloop/careloop/internal/domain/task"
	"github.com/careloop/careloop/internal/domain/tools"
	"github.com/careloop/careloop/internal/platform/db"
	"github.com/careloop/careloop/internal/platform/eventgrid"
	"github.com/careloop/careloop/internal/platform/fhir"
	"github.com/careloop/careloop/internal/platform/middleware"
	"github.com/careloop/careloop/internal/platform/rpc"
	"github.com/careloop/careloop/internal/platform/sandbox"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careloop-server",
		Short: "Discharge follow-up pipeline server",
	}

	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Start the discharge event listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListener()
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Start the tool endpoint and task query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func newEcho(logger zerolog.Logger, corsOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "aeg-sas-key"},
	}))
	return e
}

// runListener starts the webhook ingestion server: event intake, dedup
// ledger, and the orchestration fan-out over the RPC tool endpoint.
func runListener() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	ledger, cleanup, err := newLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open event ledger")
	}
	defer cleanup()

	client := rpc.NewClient(cfg.RPCURL,
		time.Duration(cfg.RPCTimeoutSecs)*time.Second,
		time.Duration(cfg.RPCBaseDelayMS)*time.Millisecond)

	orc := event.NewOrchestrator(client, ledger, logger, event.Options{
		MaxAttempts:      cfg.RPCMaxAttempts,
		SafeMode:         cfg.SafeMode,
		DeterministicIDs: cfg.DeterministicID,
	})

	e := newEcho(logger, cfg.CORSOrigins)
	event.NewHandler(orc).RegisterRoutes(e)

	return serve(e, logger, cfg.Port)
}

// runTools starts the tool endpoint: the JSON-RPC dispatch surface, the
// patient task query API, and in development a seeded FHIR document route.
func runTools() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	e := newEcho(logger, cfg.CORSOrigins)

	var repo task.Repository
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		repo = task.NewRepoPG(pool)
		e.GET("/health/db", db.HealthHandler(pool))
	case "sqlite":
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite store")
		}
		defer conn.Close()
		repo, err = task.NewRepoSQLite(conn)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init sqlite store")
		}
	}

	svc := task.NewService(repo)
	fhirClient := fhir.NewClient(cfg.FHIRBaseURL, time.Duration(cfg.RPCTimeoutSecs)*time.Second)
	publisher := eventgrid.NewPublisher(cfg.EventTopicURL, cfg.EventTopicKey,
		time.Duration(cfg.RPCTimeoutSecs)*time.Second, cfg.SafeMode, logger)

	tools.NewHandler(fhirClient, svc, publisher, logger).RegisterRoutes(e)
	task.NewHandler(svc).RegisterRoutes(e.Group(""))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if cfg.IsDev() {
		sandbox.NewHandler().RegisterRoutes(e)
		logger.Info().Msg("sandbox FHIR routes enabled")
	}

	return serve(e, logger, cfg.Port)
}

// newLedger selects the idempotency ledger implementation for the
// configured store driver.
func newLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (event.Ledger, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("connected to database")
		return event.NewLedgerPG(pool), pool.Close, nil
	case "sqlite":
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		ledger, err := event.NewLedgerSQLite(conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return ledger, func() { conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func serve(e *echo.Echo, logger zerolog.Logger, port string) error {
	go func() {
		addr := ":" + port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
