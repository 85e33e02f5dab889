/*
Package api implements the CityPulse HTTP surface.

The api package routes every external request with chi: WebSocket upgrades
go to the gateway, polling and analytics queries go to the recent cache and
the analytics engine, and the event/alert endpoints read the bbolt store.

# Architecture

	┌──────────────────────── chi router ─────────────────────────┐
	│ RequestID → RealIP → requestLogger → instrument → Recoverer  │
	│ → cors                                                       │
	└──┬─────────────┬──────────────────┬───────────────────┬──────┘
	   │             │                  │                   │
	/ws/...   /api/v1/stream    /api/v1/analytics/*   /api/v1/events
	   │          /recent              │              /api/v1/alerts
	   ▼             ▼                  ▼                   ▼
	gateway    gateway.Recent    analytics.Engine     storage.Store

# Endpoints

	GET  /ws                              WebSocket, explicit subscribes only
	GET  /ws/events                       WebSocket subscribed to "events"
	GET  /ws/sensors/{sensorID}           WebSocket subscribed to "sensor:<id>"
	GET  /api/v1/stream/recent            ?channel=&limit=1..100&after=<seq>
	GET  /api/v1/analytics/overview
	GET  /api/v1/analytics/traffic
	GET  /api/v1/analytics/weather
	GET  /api/v1/analytics/anomalies      ?sensor_id=&lookback_minutes=10..1440&flagged_only=
	GET  /api/v1/analytics/predictions    ?event_type=&horizon_hours=1..168
	GET  /api/v1/events                   ?event_type=&severity=&skip=&limit=1..1000
	POST /api/v1/events                   validated, published on "events"
	GET  /api/v1/events/{eventID}
	GET  /api/v1/alerts                   ?unresolved=true
	POST /api/v1/alerts/{alertID}/resolve
	GET  /health /ready /live /metrics

Invalid query parameters return 400 with {"error": "..."}; missing stored
records return 404. When persistence is disabled the event and alert
endpoints return 503.

Lookbacks above the analytics horizon are accepted and clamped by the
engine to the data it actually keeps.

# Shutdown

Shutdown closes every WebSocket with a going-away frame before stopping the
HTTP server, so hijacked connections do not hold it open.
*/
package api
