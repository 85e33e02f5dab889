/*
Package metrics exposes Prometheus metrics and health endpoints for CityPulse.

All collectors are package-level variables registered with the default Prometheus
registry in init(). Components update them directly; point-in-time gauges that are
cheaper to sample than to maintain are refreshed by a Collector.

# Architecture

	┌──────────────────── METRICS ─────────────────────────────┐
	│                                                            │
	│  broker ──────► published / dropped counters               │
	│  gateway ─────► connections, frames sent / rejected        │
	│  collector ───► records generated, failures                │
	│  analytics ───► records ingested, query latency            │
	│  storage ─────► writes by status                           │
	│  bridge ──────► mirrored messages by status                │
	│  api ─────────► requests, request latency                  │
	│                                                            │
	│  Collector (every 15s) ──► channels, subscriptions,        │
	│                            connections, active sensors     │
	│                                                            │
	│  /metrics  ◄── promhttp                                    │
	│  /health /ready /live  ◄── HealthChecker                   │
	└────────────────────────────────────────────────────────────┘

# Metrics Catalog

Broker:
  - citypulse_broker_messages_published_total{kind}
  - citypulse_broker_messages_dropped_total{kind}
  - citypulse_broker_channels
  - citypulse_broker_subscriptions

Gateway:
  - citypulse_gateway_connections
  - citypulse_gateway_connections_total
  - citypulse_gateway_frames_sent_total
  - citypulse_gateway_frames_rejected_total{reason}
  - citypulse_gateway_delivery_duration_seconds

Collector:
  - citypulse_collector_records_total{category}
  - citypulse_collector_failures_total{category}

Analytics:
  - citypulse_analytics_records_ingested_total{kind}
  - citypulse_analytics_active_sensors
  - citypulse_analytics_query_duration_seconds{query}

Storage, bridge and API:
  - citypulse_storage_writes_total{kind,status}
  - citypulse_bridge_messages_total{status}
  - citypulse_api_requests_total{route,status}
  - citypulse_api_request_duration_seconds{route}

Channel labels are collapsed to a kind ("events" or "sensor") through ChannelKind
so sensor ids never become label values.

# Timer Helper

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "overview")

# Health

Components report their state with RegisterComponent/UpdateComponent. /ready
requires every critical component (broker, collector and gateway by default) to be
registered and healthy. /health is "unhealthy" (503) when a critical component is
unhealthy and "degraded" (200) when only a non-critical one is.
*/
package metrics
