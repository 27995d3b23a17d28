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

	"github.com/angelmondragon/cartpulse-backend/api/routes"
	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/db"
	"github.com/angelmondragon/cartpulse-backend/pkg/instance"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/metrics"
	"github.com/angelmondragon/cartpulse-backend/pkg/migrate"
	"github.com/angelmondragon/cartpulse-backend/pkg/redis"
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
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := cart.NewStore(cart.StoreParams{
		Repo:         cart.NewRepository(dbClient.DB()),
		Cache:        redisClient,
		Logger:       logg,
		CandidateTTL: cfg.Scheduler.CandidateCacheTTL,
		StatsTTL:     cfg.Scheduler.StatsCacheTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart store", err)
		os.Exit(1)
	}

	settingsService, err := settings.NewService(settings.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create settings service", err)
		os.Exit(1)
	}

	if cfg.FeatureFlags.UseSQLite {
		if err := store.EnsureSchema(context.Background()); err != nil {
			logg.Error(context.Background(), "failed to ensure cart schema", err)
			os.Exit(1)
		}
		if err := settingsService.EnsureSchema(context.Background()); err != nil {
			logg.Error(context.Background(), "failed to ensure settings schema", err)
			os.Exit(1)
		}
	}

	tracker, err := cart.NewTracker(cart.TrackerParams{
		Store:         store,
		Settings:      settingsService,
		Orders:        cart.NewOrderAttributionRepository(dbClient.DB()),
		JWT:           cfg.JWT,
		RestoreSecret: cfg.Storefront.RestoreSecret,
		FormTokenTTL:  cfg.Storefront.FormTokenTTL,
		Metrics:       metrics.NewRecoveryMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart tracker", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"sqlite":   cfg.FeatureFlags.UseSQLite,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, prometheus.DefaultGatherer, routes.Services{
			Tracker:  tracker,
			Reporter: store,
			Settings: settingsService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
