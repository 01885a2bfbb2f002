package rest

import (
	"database/sql"
	"log/slog"

	"github.com/frahmantamala/payment-reconciliation/api"
	"github.com/frahmantamala/payment-reconciliation/internal/auth"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/poller"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/middleware"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/swagger"
	"github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

type Handlers struct {
	Webhook       *payment.WebhookHandler
	Poll          *poller.Handler
	WebhookErrors *webhookerror.Handler
}

type RouterConfig struct {
	AllowedOrigins     string
	OperatorPermission string
	// RBAC guards the admin routes; when nil they are not mounted.
	RBAC *auth.RBACAuthorization
	// HealthChecks are probed after the database on /health.
	HealthChecks []HealthCheck
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, handlers Handlers, config RouterConfig, logger *slog.Logger) error {
	healthHandler := NewHealthHandler(append([]HealthCheck{DatabaseCheck(db)}, config.HealthChecks...)...)

	validate, err := middleware.OpenAPIValidator(api.OpenAPI, logger)
	if err != nil {
		return err
	}

	router.Use(middleware.CORS(config.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	swagger.Mount(router, api.OpenAPI)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/payments", func(pr chi.Router) {
			if handlers.Webhook != nil {
				// never validated: the gateway must always get a 200
				pr.Post("/webhook", handlers.Webhook.HandleWebhook)
			}

			if handlers.Poll != nil {
				pr.Group(func(vr chi.Router) {
					vr.Use(validate)
					vr.Post("/{id}/poll", handlers.Poll.Poll)
					vr.Delete("/{id}/poll", handlers.Poll.Cancel)
				})
			}
		})

		if handlers.WebhookErrors != nil && config.RBAC != nil {
			r.Route("/admin/webhook-errors", func(ar chi.Router) {
				ar.Use(config.RBAC.Middleware(config.OperatorPermission))
				ar.Use(validate)

				ar.Get("/", handlers.WebhookErrors.List)
				ar.Post("/sweep", handlers.WebhookErrors.Sweep)
				ar.Post("/{id}/replay", handlers.WebhookErrors.Replay)
				ar.Post("/{id}/resolve", handlers.WebhookErrors.Resolve)
			})
		} else if handlers.WebhookErrors != nil {
			logger.Warn("operator endpoints disabled: no JWT public key configured")
		}
	})

	return nil
}
