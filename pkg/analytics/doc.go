/*
Package analytics computes rolling statistics over the CityPulse stream.

The Engine consumes a broker tap and keeps just enough state to answer
on-demand queries from the HTTP API. Results are pulled; nothing is pushed
back through the broker.

# State

	┌──────────────────────── ENGINE ─────────────────────────┐
	│                                                           │
	│  events ──► atomic counters      total, by type, by sev   │
	│         ──► minute buckets       active events (horizon)  │
	│         ──► hour buckets         per type, ≤168 hours     │
	│         ──► recent rings         traffic 100, weather 10  │
	│                                                           │
	│  readings ─► running sum         avg_sensor_value         │
	│           ─► 32 shards ─► per-sensor window (ring, 1024)  │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

Sensor windows are preallocated rings guarded by their own mutex. Samples
older than the horizon (60 minutes by default) are skipped when read and
overwritten by later writes. Ingest and queries for different sensors do
not contend.

# Anomalies

DetectAnomalies scores each reading in the lookback against the mean and
population standard deviation of the other readings in the lookback:

	z_i = (v_i - mean(v without i)) / stddev(v without i)

A reading is flagged when |z| >= threshold (3.0 by default). A constant
window scores 0 everywhere. When the rest of the window is constant and the
reading differs, the deviation is floored at MinStdDev, so a single spike in
a flat series is always flagged. Fewer than three readings score 0.

# Predictions

Predict fits an ordinary least-squares line to hourly counts of one event
type, from the first hour the type was seen (capped at 168 hours back)
through the current hour, and extrapolates it. A single hour of history
gives a flat forecast at that count; no history gives a flat forecast at 0.
Negative predictions are clamped to 0.

# Usage

	engine := analytics.NewEngine(analytics.Config{
		TotalSensors: 20,
		Alerts:       store,
	})
	tap, _ := broker.Tap("analytics")
	go engine.Run(ctx, tap)

	overview := engine.Overview()
	anomalies := engine.DetectAnomalies("SENSOR_003", 60)
	forecast, err := engine.Predict(types.EventTraffic, 24)
*/
package analytics
