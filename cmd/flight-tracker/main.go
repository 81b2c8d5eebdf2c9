// Flight Tracker API server
// Tracks one flight at a time and serves its progress over REST + WebSocket
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/flight-tracker/internal/api"
	"github.com/unklstewy/flight-tracker/internal/app"
	"github.com/unklstewy/flight-tracker/internal/auth"
	"github.com/unklstewy/flight-tracker/internal/db"
	"github.com/unklstewy/flight-tracker/internal/logging"
	"github.com/unklstewy/flight-tracker/pkg/config"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	retention  = flag.Duration("retention", 48*time.Hour, "How long landed flights are kept")
	hashPass   = flag.String("hash-password", "", "Print the bcrypt hash of a password for the auth config and exit")
)

func main() {
	flag.Parse()

	if *hashPass != "" {
		hash, err := auth.HashPassword(*hashPass)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.ReconnectWithRetry(ctx, cfg.Database, 5, time.Second, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		return err
	}
	logger.Info("connected to database", zap.String("driver", database.Driver()))

	engine, err := app.NewEngine(cfg, db.NewTrackingCacheRepository(database), logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	opts := api.Options{
		Flights:         db.NewFlightRepository(database),
		Tracker:         engine.Session,
		Health:          func(ctx context.Context) error { return db.HealthCheck(ctx, database) },
		TrackingContext: ctx,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Auth:            app.NewAuth(cfg.Server.Auth),
		Logger:          logger.Named("api"),
	}
	if opts.Auth != nil {
		logger.Info("api authentication enabled", zap.Int("users", len(cfg.Server.Auth.Users)))
	}
	if src := app.NewScheduleSource(cfg.Schedule); src != nil {
		opts.Schedules = src
	}
	srv := api.NewServer(opts)
	go srv.Pump(ctx)

	go cleanupLoop(ctx, database, *retention, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("provider", engine.Provider.Name()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// cleanupLoop prunes landed flights and stale tracking entries hourly.
func cleanupLoop(ctx context.Context, database *db.DB, maxAge time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := db.WithRetry(ctx, func() error {
				return database.CleanupOldData(ctx, maxAge)
			}, 2, logger)
			if err != nil {
				logger.Warn("cleanup failed", zap.Error(err))
			}
		}
	}
}
