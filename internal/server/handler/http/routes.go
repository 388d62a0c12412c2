// Package http provides HTTP routing and handlers for the relay's inbound
// surface: the Telegram webhook and the health check.
package http

import (
	"net/http"

	"github.com/atinyakov/GophRelay/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP handler of the relay.
//
// Routes:
//
//	POST /webhook  → webhookHandler.Receive (JSON only, secret token checked)
//	GET  /healthz  → healthHandler.Health
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. WithRequestLogging(logger)
//  3. on /webhook: AllowContentType("application/json") and SecretToken(secret)
//
// An empty secret disables the token check.
func NewRouter(
	webhookHandler *WebhookHandler,
	healthHandler *HealthHandler,
	secret string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/healthz", healthHandler.Health)

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))
		r.Use(middleware.SecretToken(secret))
		r.Post("/webhook", webhookHandler.Receive)
	})

	return r
}
