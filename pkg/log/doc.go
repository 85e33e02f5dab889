/*
Package log provides structured logging for CityPulse using zerolog.

The package wraps a single global zerolog.Logger. Long-lived components take a
child logger once at construction time and attach request-scoped fields as they
go:

	logger := log.WithComponent("gateway")
	logger.Info().Str("conn_id", id).Str("channel", ch).Msg("subscribed")

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Console output (the default) is meant for development; JSON output is meant for
log shippers. Levels are debug, info, warn and error; anything else falls back to
info.

# Child Loggers

  - WithComponent: "broker", "collector", "gateway", "analytics", "storage", "bridge", "api"
  - WithConnID: one WebSocket connection
  - WithChannel: one broker channel
  - WithSensorID: one virtual sensor

# Conventions

Per-message delivery is logged at debug level only. Dropped messages are never
logged individually; they are counted in the metrics package instead.
*/
package log
