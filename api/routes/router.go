package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartpulse-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/cartpulse-backend/api/controllers/admin"
	storefrontcontrollers "github.com/angelmondragon/cartpulse-backend/api/controllers/storefront"
	"github.com/angelmondragon/cartpulse-backend/api/middleware"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/redis"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Tracker  storefrontcontrollers.Tracker
	Reporter admincontrollers.Reporter
	Settings admincontrollers.SettingsService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	deps := map[string]controllers.Pinger{"db": dbP}
	var limiter middleware.RateLimiterStore
	if redisClient != nil {
		deps["redis"] = redisClient
		limiter = redisClient
	}

	loginPolicy := middleware.NewRateLimitPolicy(
		"login",
		cfg.RateLimit.LoginWindow,
		cfg.RateLimit.LoginIPLimit,
		cfg.RateLimit.LoginEmailLimit,
	)
	restorePolicy := middleware.NewRateLimitPolicy(
		"restore",
		cfg.RateLimit.RestoreWindow,
		cfg.RateLimit.RestoreLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/storefront", func(r chi.Router) {
		r.Use(
			middleware.CORS(cfg.Storefront.AllowedOrigins),
			middleware.CartSession(cfg.Storefront, cfg.JWT, logg),
		)
		r.Post("/cart", storefrontcontrollers.CartChanged(svc.Tracker, logg))
		r.Get("/checkout/token", storefrontcontrollers.CheckoutFormToken(svc.Tracker, logg))
		r.Post("/checkout/email", storefrontcontrollers.CheckoutEmail(svc.Tracker, logg))
		r.Post("/orders/{orderId}/complete", storefrontcontrollers.OrderCompleted(svc.Tracker, cfg.Storefront, logg))
		r.With(middleware.RateLimit(restorePolicy, limiter, logg)).
			Get("/restore", storefrontcontrollers.Restore(svc.Tracker, cfg.Storefront, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(loginPolicy, limiter, logg)).
			Post("/auth/login", admincontrollers.Login(cfg, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin, enums.OperatorRoleViewer))

			r.Get("/carts", admincontrollers.ListCarts(svc.Reporter, logg))
			r.Get("/carts/stats", admincontrollers.CartStats(svc.Reporter, logg))
			r.Get("/recovery/settings", admincontrollers.GetSettings(svc.Settings, logg))
			r.With(middleware.RequireRole(logg, enums.OperatorRoleAdmin)).
				Put("/recovery/settings", admincontrollers.PutSettings(svc.Settings, logg))
		})
	})

	return r
}
