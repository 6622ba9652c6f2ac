package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncspace_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncspace_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Document sync metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncspace_active_sessions",
			Help: "Document sessions currently in memory",
		},
	)

	DocConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncspace_doc_connections",
			Help: "Connections attached to document sessions",
		},
	)

	UpdatesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncspace_updates_relayed_total",
			Help: "Document update frames applied and fanned out",
		},
	)

	AwarenessDeltas = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncspace_awareness_deltas_total",
			Help: "Awareness deltas broadcast",
		},
	)

	ProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncspace_protocol_errors_total",
			Help: "Malformed or unknown frames ignored",
		},
	)

	// Control channel metrics
	ControlConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncspace_control_connections",
			Help: "Open control channel connections",
		},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "syncspace_chat_messages_total",
			Help: "Chat messages persisted and broadcast",
		},
	)

	PresenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncspace_presence_events_total",
			Help: "Presence joins and leaves",
		},
		[]string{"kind"}, // "join" or "leave"
	)
)
