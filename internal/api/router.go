package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/auth"
	"github.com/sungwon/psp-relay/internal/protocol"
)

// Relay is what the router needs from the dispatcher.
type Relay interface {
	Notifier
	RelayStats
}

// RouterConfig holds the router's dependencies.
type RouterConfig struct {
	Relay Relay
	// WebSocket serves pharmacy connections on /{recipientID}.
	WebSocket http.Handler
	Log       zerolog.Logger
	// JWT and APIKeys enable producer authentication; either may be nil.
	JWT     *auth.JWTService
	APIKeys *auth.APIKeyStore
	// RateLimiter caps producer requests when non-nil.
	RateLimiter     *auth.RateLimiter
	MaxPayloadBytes int64
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))
	r.Use(MetricsMiddleware)

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Relay))
	r.Handle("/metrics", promhttp.Handler())

	// Producer routes
	r.Group(func(r chi.Router) {
		if cfg.JWT != nil || cfg.APIKeys != nil {
			r.Use(auth.ProducerAuth(cfg.JWT, cfg.APIKeys))
		}
		if cfg.RateLimiter != nil {
			r.Use(auth.ProducerRateLimit(cfg.RateLimiter, cfg.Log))
		}

		fixed := map[string]protocol.DeliveryOption{
			"/delivery_only":  protocol.Shipment,
			"/pick_up":        protocol.OnPremise,
			"/local_delivery": protocol.Delivery,
		}
		for prefix, option := range fixed {
			h := ProduceHandler(cfg.Relay, option, cfg.MaxPayloadBytes)
			r.Post(prefix+"/{ti_id}", h)
			r.Post(prefix, h)
		}

		mock := PspMockHandler(cfg.Relay, cfg.MaxPayloadBytes)
		r.Post("/pspmock/{option}/{ti_id}", mock)
		r.Post("/pspmock/{option}", mock)
	})

	// Pharmacy connections (never authenticated)
	if cfg.WebSocket != nil {
		r.Method(http.MethodGet, "/{recipientID}", cfg.WebSocket)
	}

	return r
}
