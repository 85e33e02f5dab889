package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Broker metrics
	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_broker_messages_published_total",
			Help: "Total number of records published by channel kind (events or sensor)",
		},
		[]string{"kind"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_broker_messages_dropped_total",
			Help: "Total number of queued records dropped by drop-oldest overflow, by channel kind",
		},
		[]string{"kind"},
	)

	ChannelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "citypulse_broker_channels",
			Help: "Number of channels with at least one subscriber",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "citypulse_broker_subscriptions",
			Help: "Number of live subscriptions, taps included",
		},
	)

	// Gateway metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "citypulse_gateway_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citypulse_gateway_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
	)

	FramesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citypulse_gateway_frames_sent_total",
			Help: "Total number of envelopes written to WebSocket connections",
		},
	)

	FramesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_gateway_frames_rejected_total",
			Help: "Total number of inbound frames rejected, by reason",
		},
		[]string{"reason"},
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citypulse_gateway_delivery_duration_seconds",
			Help:    "Time taken to write one envelope to a connection",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	// Collector metrics
	RecordsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_collector_records_total",
			Help: "Total number of records generated by category",
		},
		[]string{"category"},
	)

	CollectorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_collector_failures_total",
			Help: "Total number of generation or publish failures by category",
		},
		[]string{"category"},
	)

	// Analytics metrics
	RecordsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_analytics_records_ingested_total",
			Help: "Total number of records ingested by the analytics engine by kind",
		},
		[]string{"kind"},
	)

	ActiveSensors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "citypulse_analytics_active_sensors",
			Help: "Number of sensors with at least one sample inside the analytics horizon",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citypulse_analytics_query_duration_seconds",
			Help:    "Analytics query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Storage metrics
	StorageWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_storage_writes_total",
			Help: "Total number of persisted records by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Bridge metrics
	BridgePublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_bridge_messages_total",
			Help: "Total number of records mirrored to NATS by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citypulse_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citypulse_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MessagesPublished)
	prometheus.MustRegister(MessagesDropped)
	prometheus.MustRegister(ChannelsActive)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(FramesSent)
	prometheus.MustRegister(FramesRejected)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(RecordsGenerated)
	prometheus.MustRegister(CollectorFailures)
	prometheus.MustRegister(RecordsIngested)
	prometheus.MustRegister(ActiveSensors)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(StorageWrites)
	prometheus.MustRegister(BridgePublished)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// ChannelKind maps a channel name to the low-cardinality label used by broker metrics
func ChannelKind(channel string) string {
	if channel == "events" {
		return "events"
	}
	return "sensor"
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
