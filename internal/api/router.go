package api

import (
	"net/http"

	"github.com/ayo6706/funds-movement/internal/api/handler"
	"github.com/ayo6706/funds-movement/internal/api/middleware"
	"github.com/ayo6706/funds-movement/internal/api/spec"
	"github.com/ayo6706/funds-movement/internal/config"
	"github.com/ayo6706/funds-movement/internal/idempotency"
	"github.com/ayo6706/funds-movement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config         *config.Config
	Logger         *zap.Logger
	DB             handler.Pinger
	Redis          redis.Cmdable
	Idempotency    *idempotency.Store
	Movements      *service.MovementService
	Reconciliation *service.ReconciliationService
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	if deps.Config == nil {
		deps.Config = &config.Config{PublicRateLimitRPS: 10, AuthRateLimitRPS: 100}
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	cfg := api.deps.Config
	logger := api.deps.Logger

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.RecoverMiddleware(logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.deps.DB, api.deps.Redis)
	movementHandler := handler.NewMovementHandler(api.deps.Movements)
	reconciliationHandler := handler.NewReconciliationHandler(api.deps.Reconciliation)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(cfg.PublicRateLimitRPS))
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
		})
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(cfg.AuthRateLimitRPS))
		r.Use(middleware.IdempotencyMiddleware(api.deps.Idempotency, logger))

		r.Route("/v1/transactions", func(r chi.Router) {
			r.Post("/deposit", movementHandler.Deposit)
			r.Post("/withdraw", movementHandler.Withdraw)
			r.Post("/transfer", movementHandler.Transfer)
			r.Get("/", movementHandler.List)
			r.Get("/{id}", movementHandler.Get)
		})

		r.Route("/v1/admin/reconciliation", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))
			r.Get("/", reconciliationHandler.Queue)
			r.Get("/{id}", reconciliationHandler.Inspect)
			r.Post("/{id}/resolve", reconciliationHandler.Resolve)
		})
	})

	return r
}
