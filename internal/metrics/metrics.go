// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_connected_clients",
			Help: "WebSocket clients currently registered",
		},
	)

	UpgradesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_upgrades_rejected_total",
			Help: "WebSocket upgrade requests refused before upgrading",
		},
		[]string{"reason"}, // "unauthenticated", "forbidden", "bad_room", "handshake", "error"
	)

	RateLimitedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_rate_limited_frames_total",
			Help: "Inbound frames discarded by the per-connection rate limiter",
		},
	)

	// Message metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_messages_persisted_total",
			Help: "Messages durably appended",
		},
	)

	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_persistence_failures_total",
			Help: "Messages dropped because they could not be persisted",
		},
	)

	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_deliveries_total",
			Help: "Payloads queued to recipients",
		},
	)

	DeliveryDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_delivery_drops_total",
			Help: "Payloads dropped because a recipient queue was full",
		},
	)
)
