/*
Package types defines the records that flow through the CityPulse pipeline.

Every component in the module exchanges the values declared here: the collector
produces them, the broker fans them out, the gateway serializes them and the
analytics engine aggregates them. The package has no dependencies on other
CityPulse packages.

# Core Types

Records:
  - Event: a city event (traffic, weather, social, sensor, alert) with severity
  - SensorReading: one numeric sample from a virtual sensor
  - Record: sealed interface implemented by Event and SensorReading

Enumerations:
  - EventType: traffic | weather | sensor | social | alert
  - Severity: low < medium < high < critical (ordered)
  - SensorKind: temperature | humidity | air_quality | noise

Channels:
  - ChannelEvents: the general "events" channel
  - SensorChannel(id): the per-sensor "sensor:<id>" channel
  - ParseChannel: validates a channel name and extracts the sensor id

Derived values:
  - Envelope: the outbound wire shape {"data": record}
  - AnomalyRecord: a z-scored reading produced on query

# Immutability

Records are immutable once published. Event.Metadata is shared read-only between
all consumers after publication; producers must not mutate the map after handing
the event to the broker.

# Enumerations

EventType and Severity are closed sets. Code that branches on them uses exhaustive
switches and the Valid method rather than open-ended string lookups:

	switch ev.Type {
	case types.EventTraffic:
	case types.EventWeather:
	case types.EventSocial, types.EventSensor, types.EventAlert:
	}

Severity orders as low < medium < high < critical:

	if ev.Severity.AtLeast(types.SeverityHigh) {
		// page someone
	}
*/
package types
