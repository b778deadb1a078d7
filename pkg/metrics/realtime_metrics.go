package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Real-time delivery metrics for the registry, router, and call coordinator
var (
	// Connection lifecycle
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_ws_connections_active",
		Help: "Current number of live WebSocket connections",
	})

	WSConnectionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlink_ws_connections_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	})

	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_users_online",
		Help: "Current number of users with at least one live connection",
	})

	// Event delivery
	EventsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_events_delivered_total",
		Help: "Total number of events delivered to live connections",
	}, []string{"type"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_events_dropped_total",
		Help: "Total number of events dropped before delivery",
	}, []string{"reason"})

	PresenceBroadcastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlink_presence_broadcast_total",
		Help: "Total number of presence snapshot broadcasts",
	})

	// Message routing
	MessagesRoutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_messages_routed_total",
		Help: "Total number of chat messages routed",
	}, []string{"target", "status"})

	MessagePersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatlink_message_persist_duration_seconds",
		Help:    "Time spent persisting a message before fan-out",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// Call signaling
	CallSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_call_sessions_active",
		Help: "Current number of non-terminal call sessions",
	})

	CallOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_call_outcomes_total",
		Help: "Total number of call sessions by terminal outcome",
	}, []string{"outcome"})

	CallSignalRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_call_signal_rejected_total",
		Help: "Total number of refused call signaling operations",
	}, []string{"op", "code"})

	// Cross-node relay
	RelayPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_relay_publish_total",
		Help: "Total number of events published to the Redis relay",
	}, []string{"status"})

	RelaySubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_relay_subscriptions_active",
		Help: "Current number of active Redis relay subscriptions",
	})
)
