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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	"github.com/angelmondragon/cartpulse-backend/internal/cron"
	"github.com/angelmondragon/cartpulse-backend/internal/recoverymail"
	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/db"
	"github.com/angelmondragon/cartpulse-backend/pkg/instance"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/metrics"
	"github.com/angelmondragon/cartpulse-backend/pkg/migrate"
	"github.com/angelmondragon/cartpulse-backend/pkg/redis"
	"github.com/angelmondragon/cartpulse-backend/pkg/sendgrid"
)

const lockName = "cart-recovery"

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

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	mailer, err := buildMailer(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mailer", err)
		os.Exit(1)
	}

	sender, err := recoverymail.NewSender(recoverymail.SenderParams{
		Mailer:        mailer,
		Logger:        logg,
		FromEmail:     cfg.Sendgrid.DefaultFrom,
		FromName:      cfg.Sendgrid.FromName,
		PublicBaseURL: cfg.Storefront.PublicBaseURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery sender", err)
		os.Exit(1)
	}

	recoveryJob, err := cron.NewCartRecoveryJob(cron.CartRecoveryJobParams{
		Logger:          logg,
		Store:           store,
		Settings:        settingsService,
		Sender:          sender,
		Metrics:         metrics.NewRecoveryMetrics(prometheus.DefaultRegisterer),
		MaxSendAttempts: cfg.Scheduler.MaxSendAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart recovery job", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(recoveryJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Scheduler.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     registry,
		Lock:         lock,
		Metrics:      metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:     cfg.Scheduler.EffectiveInterval(),
		InitialDelay: cfg.Scheduler.InitialDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        registry.Names(),
	})

	if cfg.Scheduler.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Scheduler.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildMailer uses SendGrid when a key is configured. Outside prod a missing
// key falls back to logging the message instead of sending it.
func buildMailer(cfg *config.Config, logg *logger.Logger) (recoverymail.Mailer, error) {
	if cfg.Sendgrid.APIKey == "" {
		if cfg.App.IsProd() {
			return nil, errors.New("sendgrid api key is required in prod")
		}
		logg.Warn(context.Background(), "sendgrid api key missing, recovery emails will only be logged")
		return recoverymail.LogMailer{Logger: logg}, nil
	}
	var opts []sendgrid.Option
	if cfg.Sendgrid.BaseURL != "" {
		opts = append(opts, sendgrid.WithBaseURL(cfg.Sendgrid.BaseURL))
	}
	client, err := sendgrid.NewClient(cfg.Sendgrid.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}
