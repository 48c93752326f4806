package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/projectbuendia/edge/internal/config"
	"github.com/projectbuendia/edge/internal/platform/auth"
	"github.com/projectbuendia/edge/internal/platform/db"
	"github.com/projectbuendia/edge/internal/platform/middleware"
	"github.com/projectbuendia/edge/internal/records"
	"github.com/projectbuendia/edge/internal/router"
	syncpkg "github.com/projectbuendia/edge/internal/sync"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edge-server",
		Short: "Field site medical records cache server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the edge cache server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the datastore schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the schema, dropping and recreating on version mismatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			pool, err := connect()
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.EnsureSchema(context.Background(), pool, records.Schema(), logger); err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", records.SchemaVersion)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop every table and recreate the schema, discarding all cached data",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			pool, err := connect()
			if err != nil {
				return err
			}
			defer pool.Close()
			ctx := context.Background()
			if err := db.DropAll(ctx, pool, records.Schema()); err != nil {
				return err
			}
			if err := db.EnsureSchema(ctx, pool, records.Schema(), logger); err != nil {
				return err
			}
			fmt.Printf("schema reset to version %d\n", records.SchemaVersion)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connect()
			if err != nil {
				return err
			}
			defer pool.Close()
			version, err := db.CurrentVersion(context.Background(), pool)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Println("no schema applied")
				return nil
			}
			fmt.Printf("applied version %d, binary expects %d\n", version, records.SchemaVersion)
			return nil
		},
	})

	return cmd
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func connect() (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Fatal on failure: without the cache tables nothing can be served.
	if err := db.EnsureSchema(ctx, pool, records.Schema(), logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.SigningKey),
		}))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	// Query router over the record store
	registry := router.BuildRegistry()
	routerHandler := router.NewHandler(registry, pool)
	routerHandler.RegisterRoutes(apiV1)

	// Sync ingestion and status.  Pull-style full syncs need an upstream
	// server; without one only the push endpoints are served.
	syncStore := syncpkg.NewStore(pool, logger)
	reconciler := syncpkg.NewReconciler(logger)
	var runner *syncpkg.Runner
	if cfg.UpstreamURL != "" {
		source := syncpkg.NewHTTPSource(cfg.UpstreamURL)
		runner = syncpkg.NewRunner(source, syncStore, reconciler, logger)
		logger.Info().Str("upstream", cfg.UpstreamURL).Msg("full sync enabled")
	} else {
		logger.Warn().Msg("UPSTREAM_URL not set, full sync disabled")
	}
	syncHandler := syncpkg.NewHandler(syncStore, reconciler, runner)
	syncHandler.RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
