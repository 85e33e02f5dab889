/*
Package storage provides BoltDB-backed persistence for published CityPulse
records.

Persistence is a collaborator of the pipeline, not part of it: the Recorder
reads a broker tap and writes in batches, so a slow or failing disk never
blocks the collector or WebSocket delivery. Failed writes are logged and
counted in citypulse_storage_writes_total{status="error"}.

# Architecture

	broker ──tap──► Recorder ──SaveBatch──► BoltStore (<path>, default citypulse.db)
	                                          │
	        ┌─────────────────────────────────┼──────────────────────────┐
	        │ events     time(8B BE) + id     │ JSON types.Event         │
	        │ event_ids  id                   │ key into events          │
	        │ readings   sensorID "/" time    │ JSON types.SensorReading │
	        │ alerts     id                   │ JSON Alert               │
	        └────────────────────────────────────────────────────────────┘

Keys are ordered so cursors do the work: ListEvents walks events backwards
for newest first, applying the EventFilter type, severity and skip as it
goes, and ListReadings seeks to sensorID/since and walks forward while the
prefix matches.

# Retention

Readings arrive once per sensor per second and would grow the file without
bound. Retention runs PruneReadings on a ticker and deletes readings older
than storage.reading_retention (default 24h). Events and alerts are kept.

# Alerts

An event with type "alert" creates an unresolved Alert with the same id the
first time it is written. Alerts are resolved through ResolveAlert, which is
idempotent. BoltStore.AlertCounts feeds the overview's total_alerts and
unresolved_alerts.

# Transactions

	db.View()    concurrent reads (GetEvent, ListEvents, ListReadings, ListAlerts)
	db.Update()  serialized writes (SaveEvent, SaveBatch, ResolveAlert, PruneReadings)

Missing records are reported with errors wrapping ErrNotFound:

	ev, err := store.GetEvent(id)
	if errors.Is(err, storage.ErrNotFound) {
		// 404
	}
*/
package storage
