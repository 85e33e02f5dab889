package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	tests := []struct {
		name     string
		s        Severity
		other    Severity
		expected bool
	}{
		{name: "critical over high", s: SeverityCritical, other: SeverityHigh, expected: true},
		{name: "equal", s: SeverityMedium, other: SeverityMedium, expected: true},
		{name: "low under medium", s: SeverityLow, other: SeverityMedium, expected: false},
		{name: "unknown never qualifies", s: Severity("urgent"), other: SeverityLow, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.s.AtLeast(tt.other))
		})
	}
}

func TestEventTypeIndexCoversAllTypes(t *testing.T) {
	for i, et := range EventTypes {
		assert.True(t, et.Valid())
		assert.Equal(t, i, et.Index())
	}
	assert.Equal(t, -1, EventType("parade").Index())
}

func TestParseEventType(t *testing.T) {
	et, err := ParseEventType(" Traffic ")
	require.NoError(t, err)
	assert.Equal(t, EventTraffic, et)

	_, err = ParseEventType("parade")
	assert.Error(t, err)
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		sensorID string
		wantErr  bool
	}{
		{name: "events channel", channel: "events"},
		{name: "sensor channel", channel: "sensor:SENSOR_001", sensorID: "SENSOR_001"},
		{name: "empty sensor id", channel: "sensor:", wantErr: true},
		{name: "bad characters", channel: "sensor:a b", wantErr: true},
		{name: "unknown channel", channel: "weather", wantErr: true},
		{name: "empty", channel: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseChannel(tt.channel)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sensorID, id)
		})
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		ID:        "evt-1",
		Type:      EventTraffic,
		Severity:  SeverityHigh,
		Title:     "Accident",
		Latitude:  Float64(40.7),
		Longitude: Float64(-74.0),
		CreatedAt: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Title = ""
	bad.Latitude = Float64(91)
	bad.Severity = "urgent"
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
	assert.Contains(t, err.Error(), "latitude")
	assert.Contains(t, err.Error(), "severity")
}

func TestEnvelopeShape(t *testing.T) {
	ev := Event{
		ID:        "evt-1",
		Type:      EventTraffic,
		Severity:  SeverityCritical,
		Title:     "Accident",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	b, err := MarshalEnvelope(ev)
	require.NoError(t, err)

	var generic map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &generic))
	assert.Equal(t, "traffic", generic["data"]["event_type"])
	assert.Equal(t, "critical", generic["data"]["severity"])
	assert.NotContains(t, generic["data"], "latitude")
}

func TestUnmarshalEnvelope(t *testing.T) {
	reading := SensorReading{SensorID: "SENSOR_001", Value: 21.5, Unit: "°C", Quality: 0.9, Timestamp: time.Now().UTC()}
	b, err := MarshalEnvelope(reading)
	require.NoError(t, err)

	decoded, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	require.NotNil(t, decoded.Reading)
	assert.Nil(t, decoded.Event)
	assert.Equal(t, "sensor:SENSOR_001", decoded.Record().Channel())

	_, err = UnmarshalEnvelope([]byte(`{"data":{"foo":1}}`))
	assert.Error(t, err)

	_, err = UnmarshalEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestSensorKindRanges(t *testing.T) {
	for _, k := range SensorKinds {
		lo, hi := k.Range()
		assert.Less(t, lo, hi, string(k))
		assert.NotEmpty(t, k.Unit(), string(k))
	}
}
