package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EventType classifies an Event
type EventType string

const (
	EventTraffic EventType = "traffic"
	EventWeather EventType = "weather"
	EventSensor  EventType = "sensor"
	EventSocial  EventType = "social"
	EventAlert   EventType = "alert"
)

// EventTypes lists every event type in declaration order
var EventTypes = []EventType{EventTraffic, EventWeather, EventSensor, EventSocial, EventAlert}

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventTraffic, EventWeather, EventSensor, EventSocial, EventAlert:
		return true
	}
	return false
}

// Index returns the position of t in EventTypes, or -1
func (t EventType) Index() int {
	switch t {
	case EventTraffic:
		return 0
	case EventWeather:
		return 1
	case EventSensor:
		return 2
	case EventSocial:
		return 3
	case EventAlert:
		return 4
	}
	return -1
}

// ParseEventType converts a string into an EventType
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Severity ranks the urgency of an Event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from lowest to highest
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the ordinal of s (low = 0), or -1 for unknown values
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank() && s.Valid()
}

// SensorKind identifies what a virtual sensor measures
type SensorKind string

const (
	SensorTemperature SensorKind = "temperature"
	SensorHumidity    SensorKind = "humidity"
	SensorAirQuality  SensorKind = "air_quality"
	SensorNoise       SensorKind = "noise"
)

// SensorKinds lists every sensor kind
var SensorKinds = []SensorKind{SensorTemperature, SensorHumidity, SensorAirQuality, SensorNoise}

// Unit returns the measurement unit for the kind
func (k SensorKind) Unit() string {
	switch k {
	case SensorTemperature:
		return "°C"
	case SensorHumidity:
		return "%"
	case SensorAirQuality:
		return "AQI"
	case SensorNoise:
		return "dB"
	}
	return ""
}

// Range returns the plausible value bounds for the kind
func (k SensorKind) Range() (min, max float64) {
	switch k {
	case SensorTemperature:
		return 0, 40
	case SensorHumidity:
		return 20, 90
	case SensorAirQuality:
		return 0, 500
	case SensorNoise:
		return 30, 100
	}
	return 0, 0
}

// Record is a value carried by the broker. It is implemented only by Event and
// SensorReading.
type Record interface {
	// Channel returns the channel the record is published on
	Channel() string
	// OccurredAt returns the record's timestamp
	OccurredAt() time.Time
	isRecord()
}

// Event represents a city event
type Event struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"event_type"`
	Severity    Severity           `json:"severity"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Location    string             `json:"location,omitempty"`
	Latitude    *float64           `json:"latitude,omitempty"`
	Longitude   *float64           `json:"longitude,omitempty"`
	Metadata    map[string]float64 `json:"meta_data,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (Event) isRecord() {}

// Channel returns ChannelEvents
func (e Event) Channel() string { return ChannelEvents }

// OccurredAt returns the creation timestamp
func (e Event) OccurredAt() time.Time { return e.CreatedAt }

// Meta returns a metadata value, or def when the key is absent
func (e Event) Meta(key string, def float64) float64 {
	if v, ok := e.Metadata[key]; ok {
		return v
	}
	return def
}

// Validate checks the event against the field constraints of the public API
func (e Event) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if !e.Type.Valid() {
		errs = append(errs, fmt.Errorf("invalid event type %q", e.Type))
	}
	if !e.Severity.Valid() {
		errs = append(errs, fmt.Errorf("invalid severity %q", e.Severity))
	}
	if n := len(e.Title); n < 1 || n > 255 {
		errs = append(errs, errors.New("title must be 1-255 characters"))
	}
	if len(e.Description) > 1000 {
		errs = append(errs, errors.New("description must be at most 1000 characters"))
	}
	if len(e.Location) > 255 {
		errs = append(errs, errors.New("location must be at most 255 characters"))
	}
	if e.Latitude != nil && (*e.Latitude < -90 || *e.Latitude > 90) {
		errs = append(errs, errors.New("latitude must be within [-90, 90]"))
	}
	if e.Longitude != nil && (*e.Longitude < -180 || *e.Longitude > 180) {
		errs = append(errs, errors.New("longitude must be within [-180, 180]"))
	}
	if e.CreatedAt.IsZero() {
		errs = append(errs, errors.New("created_at is required"))
	}
	return errors.Join(errs...)
}

// SensorReading is one sample produced by a virtual sensor
type SensorReading struct {
	SensorID  string     `json:"sensor_id"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit"`
	Quality   float64    `json:"quality"`
	Kind      SensorKind `json:"sensor_type,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (SensorReading) isRecord() {}

// Channel returns the reading's sensor channel
func (r SensorReading) Channel() string { return SensorChannel(r.SensorID) }

// OccurredAt returns the sample timestamp
func (r SensorReading) OccurredAt() time.Time { return r.Timestamp }

// ChannelEvents is the general event channel
const ChannelEvents = "events"

const sensorChannelPrefix = "sensor:"

var sensorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidSensorID reports whether id can be used in a sensor channel name
func ValidSensorID(id string) bool {
	return sensorIDPattern.MatchString(id)
}

// SensorChannel returns the channel name for a sensor
func SensorChannel(sensorID string) string {
	return sensorChannelPrefix + sensorID
}

// ParseChannel validates a channel name. For sensor channels the sensor id is
// returned; for ChannelEvents the id is empty.
func ParseChannel(name string) (sensorID string, err error) {
	if name == ChannelEvents {
		return "", nil
	}
	if id, ok := strings.CutPrefix(name, sensorChannelPrefix); ok && ValidSensorID(id) {
		return id, nil
	}
	return "", fmt.Errorf("invalid channel %q", name)
}

// Envelope is the outbound wire shape of one published record
type Envelope struct {
	Data Record `json:"data"`
}

// MarshalEnvelope encodes a record as {"data": record}
func MarshalEnvelope(r Record) ([]byte, error) {
	return json.Marshal(Envelope{Data: r})
}

// DecodedEnvelope is the client-side view of an Envelope, holding whichever
// record kind was received.
type DecodedEnvelope struct {
	Event   *Event
	Reading *SensorReading
}

// Record returns the decoded record
func (d DecodedEnvelope) Record() Record {
	if d.Event != nil {
		return *d.Event
	}
	if d.Reading != nil {
		return *d.Reading
	}
	return nil
}

// UnmarshalEnvelope decodes {"data": ...} into an Event or SensorReading. A
// payload with a sensor_id is a reading; one with an event_type is an event.
func UnmarshalEnvelope(b []byte) (DecodedEnvelope, error) {
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return DecodedEnvelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if len(raw.Data) == 0 {
		return DecodedEnvelope{}, errors.New("envelope has no data")
	}

	var head struct {
		SensorID  string `json:"sensor_id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw.Data, &head); err != nil {
		return DecodedEnvelope{}, fmt.Errorf("failed to decode envelope data: %w", err)
	}

	switch {
	case head.EventType != "":
		var ev Event
		if err := json.Unmarshal(raw.Data, &ev); err != nil {
			return DecodedEnvelope{}, fmt.Errorf("failed to decode event: %w", err)
		}
		return DecodedEnvelope{Event: &ev}, nil
	case head.SensorID != "":
		var rd SensorReading
		if err := json.Unmarshal(raw.Data, &rd); err != nil {
			return DecodedEnvelope{}, fmt.Errorf("failed to decode reading: %w", err)
		}
		return DecodedEnvelope{Reading: &rd}, nil
	}
	return DecodedEnvelope{}, errors.New("envelope data is neither an event nor a reading")
}

// AnomalyRecord is a reading scored against its sensor's rolling window
type AnomalyRecord struct {
	SensorID string  `json:"sensor_id"`
	Value    float64 `json:"value"`
	// ZScore is capped in magnitude; Deviation carries the raw distance
	// from the mean of the other readings
	ZScore        float64    `json:"z_score"`
	Deviation     float64    `json:"deviation"`
	ExpectedRange [2]float64 `json:"expected_range"`
	Anomaly       bool       `json:"is_anomaly"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Float64 returns a pointer to v, for optional coordinates
func Float64(v float64) *float64 {
	return &v
}
