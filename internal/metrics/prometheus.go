package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics
var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Number of pharmacy WebSocket connections currently registered",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total number of pharmacy connection events",
		},
		[]string{"event"}, // accepted, superseded, closed, upgrade_failed
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Total number of notifications accepted from producers by outcome",
		},
		[]string{"outcome"}, // delivered, queued, rejected
	)

	ControlFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_control_frames_total",
			Help: "Total number of control frames received from pharmacies",
		},
		[]string{"command"}, // fetch_stored, clear_queue
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Total number of inbound frames ignored by the relay",
		},
		[]string{"reason"}, // binary, malformed, unexpected_data, signal
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_seconds",
			Help:    "Duration of writing one notification frame to a pharmacy",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of producer authentication failures",
		},
	)

	APIRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Total number of producer requests rejected by the rate limiter",
		},
		[]string{"producer"},
	)
)
