package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcode_chat_messages_appended_total",
		Help: "Total number of chat messages appended to conversations",
	})

	ConversationsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcode_chat_conversations_started_total",
		Help: "Total number of conversations created",
	}, []string{"kind"}) // "direct", "group"

	ReadReceiptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcode_chat_read_receipts_total",
		Help: "Total number of read flags set on messages",
	})

	StoreWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcode_store_writes_total",
		Help: "Total number of persisted record writes",
	}, []string{"record", "status"})

	StoreLoadFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcode_store_load_fallbacks_total",
		Help: "Total number of loads that substituted a default value",
	}, []string{"record", "reason"}) // "missing", "corrupt", "error"

	CrossTabEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcode_crosstab_events_total",
		Help: "Total number of change notifications received from other sessions",
	}, []string{"kind", "status"})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcode_ai_gateway_requests_total",
		Help: "Total number of AI gateway requests by outcome",
	}, []string{"operation", "outcome"}) // "ok", "fallback"

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dcode_ai_gateway_request_duration_seconds",
		Help:    "Time taken by AI gateway requests",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dcode_active_sessions",
		Help: "Current number of open sessions",
	})
)
