package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/ai-pipeline/internal/auth"
	"github.com/capitalize-ai/ai-pipeline/internal/middleware"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

// RouterConfig wires handlers into the HTTP surface.
type RouterConfig struct {
	Health   *HealthHandler
	Requests *RequestsHandler
	Quota    *QuotaHandler
	Webhooks *WebhookHandler
	Realtime http.Handler
	Verifier auth.TokenVerifier
	Logger   *logger.Logger

	AllowedOrigins           []string
	RateLimitRequests        int
	RateLimitWindow          time.Duration
	WebhookRateLimitRequests int
	WebhookRateLimitWindow   time.Duration
}

// NewRouter builds the chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Realtime != nil {
		r.Handle("/ws", cfg.Realtime)
	}

	r.With(middleware.IntegrationRateLimit(cfg.WebhookRateLimitRequests, cfg.WebhookRateLimitWindow)).
		Post("/integrations/webhook/{integrationId}", cfg.Webhooks.Handle)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Verifier))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/tools/{toolSlug}/requests", cfg.Requests.Create)
		r.Get("/requests/{id}", cfg.Requests.Get)
		r.Get("/requests/{id}/events", cfg.Requests.Events)
		r.Get("/quota", cfg.Quota.Get)
	})

	return r
}
