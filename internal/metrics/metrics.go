// Package metrics defines Prometheus metrics for the realtime subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime manager metrics
var (
	// RealtimeActiveConnections tracks the number of live websocket connections
	RealtimeActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of live websocket connections",
		},
	)

	// RealtimeActiveChannels tracks the number of channels with at least one subscriber
	RealtimeActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_channels",
			Help: "Number of channels with at least one subscriber",
		},
	)

	// RealtimeBroadcastsTotal tracks broadcast fan-outs by outcome
	RealtimeBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Total broadcast fan-outs by outcome (delivered, partial, empty)",
		},
		[]string{"outcome"},
	)

	// RealtimeMessagesDeliveredTotal tracks individual message deliveries
	RealtimeMessagesDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_delivered_total",
			Help: "Total messages enqueued for delivery to individual connections",
		},
	)

	// RealtimeDeliveryFailuresTotal tracks per-recipient delivery failures
	RealtimeDeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_delivery_failures_total",
			Help: "Total per-recipient delivery failures",
		},
	)

	// RealtimeEvictionsTotal tracks connection evictions by reason
	RealtimeEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_evictions_total",
			Help: "Total connection evictions by reason (disconnect, write_failure, shutdown)",
		},
		[]string{"reason"},
	)

	// RealtimeCommandChannelDepth tracks current manager command channel depth
	RealtimeCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_command_channel_depth",
			Help: "Current manager command channel depth",
		},
	)

	// RealtimeMessageSendDuration tracks websocket write latency
	RealtimeMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_message_send_duration_seconds",
			Help:    "WebSocket message write duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Status publisher metrics
var (
	// StatusCyclesTotal tracks status publisher cycles by result
	StatusCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_publisher_cycles_total",
			Help: "Status publisher cycles by result (ok, error)",
		},
		[]string{"result"},
	)
)

// Connection limit metrics
var (
	// ConnectionsRejectedTotal tracks websocket connections rejected by limiters
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "WebSocket connections rejected by limit reason",
		},
		[]string{"reason"},
	)
)

// Circuit breaker metrics
var (
	// CircuitBreakerState tracks the current breaker state per component (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CircuitBreakerStateChanges tracks breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)

// Relay metrics
var (
	// RelayMessagesPublishedTotal tracks events published to the relay
	RelayMessagesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_published_total",
			Help: "Total events published to the cross-instance relay",
		},
	)

	// RelayMessagesReceivedTotal tracks relay events received and fanned out locally
	RelayMessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total relay events received and fanned out locally",
		},
	)
)
