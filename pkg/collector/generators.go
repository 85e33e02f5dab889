package collector

import (
	"fmt"
	"time"

	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/google/uuid"
)

// Generators below run with c.mu held.

type titled struct {
	title    string
	severity types.Severity
}

var trafficKinds = []titled{
	{"Heavy Traffic", types.SeverityMedium},
	{"Accident", types.SeverityHigh},
	{"Road Construction", types.SeverityLow},
	{"Traffic Jam", types.SeverityHigh},
	{"Slow Moving Traffic", types.SeverityMedium},
	{"Multi-Vehicle Collision", types.SeverityCritical},
}

var streets = []string{"Broadway", "Fifth Ave", "Park Ave", "Madison Ave", "Canal St", "Houston St"}

var weatherKinds = []titled{
	{"Clear Sky", types.SeverityLow},
	{"Light Rain", types.SeverityLow},
	{"Heavy Rain", types.SeverityMedium},
	{"Thunderstorm", types.SeverityHigh},
	{"Snow", types.SeverityMedium},
	{"Fog", types.SeverityMedium},
}

var socialKinds = []titled{
	{"Street Festival", types.SeverityLow},
	{"Concert", types.SeverityLow},
	{"Public Demonstration", types.SeverityMedium},
	{"Marathon", types.SeverityMedium},
	{"Crowd Surge", types.SeverityHigh},
}

var venues = []string{"Central Park", "Times Square", "Union Square", "Battery Park", "Bryant Park"}

// alertFraction is the position within a sensor kind's range above which a
// reading also raises an alert event
const alertFraction = 0.95

func (c *Collector) uniform(lo, hi float64) float64 {
	return lo + c.rng.Float64()*(hi-lo)
}

func (c *Collector) intBetween(lo, hi int) int {
	return lo + c.rng.Intn(hi-lo+1)
}

func (c *Collector) newID() string {
	id, err := uuid.NewRandomFromReader(c.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// eventCount draws how many events a due category produces
func (c *Collector) eventCount() int {
	if c.cfg.MaxEventsPerTick == 0 {
		return 0
	}
	return 1 + c.rng.Intn(c.cfg.MaxEventsPerTick)
}

func (c *Collector) placeSensors() []Sensor {
	sensors := make([]Sensor, 0, c.cfg.SensorCount)
	for i := 0; i < c.cfg.SensorCount; i++ {
		s := Sensor{
			ID:        fmt.Sprintf("SENSOR_%03d", i),
			Kind:      types.SensorKinds[c.rng.Intn(len(types.SensorKinds))],
			Latitude:  c.cfg.CenterLatitude + c.uniform(-0.1, 0.1),
			Longitude: c.cfg.CenterLongitude + c.uniform(-0.1, 0.1),
		}
		logger := log.WithSensorID(s.ID)
		logger.Debug().
			Str("component", "collector").
			Str("kind", string(s.Kind)).
			Float64("latitude", s.Latitude).
			Float64("longitude", s.Longitude).
			Msg("Sensor placed")
		sensors = append(sensors, s)
	}
	return sensors
}

func (c *Collector) trafficEvents(now time.Time) []types.Record {
	n := c.eventCount()
	out := make([]types.Record, 0, n)
	for i := 0; i < n; i++ {
		kind := trafficKinds[c.rng.Intn(len(trafficKinds))]
		congestion := c.uniform(0.5, 1.0)
		out = append(out, types.Event{
			ID:          c.newID(),
			Type:        types.EventTraffic,
			Severity:    kind.severity,
			Title:       kind.title,
			Description: "Traffic incident detected in the area",
			Location:    streets[c.rng.Intn(len(streets))],
			Latitude:    types.Float64(c.cfg.CenterLatitude + c.uniform(-0.05, 0.05)),
			Longitude:   types.Float64(c.cfg.CenterLongitude + c.uniform(-0.05, 0.05)),
			Metadata: map[string]float64{
				"congestion_level": congestion,
				"estimated_delay":  float64(c.intBetween(5, 30)),
				"affected_lanes":   float64(c.intBetween(1, 3)),
				"average_speed":    65 - 55*congestion,
			},
			CreatedAt: now,
		})
	}
	return out
}

func (c *Collector) weatherEvents(now time.Time) []types.Record {
	n := c.eventCount()
	out := make([]types.Record, 0, n)
	for i := 0; i < n; i++ {
		kind := weatherKinds[c.rng.Intn(len(weatherKinds))]
		out = append(out, types.Event{
			ID:          c.newID(),
			Type:        types.EventWeather,
			Severity:    kind.severity,
			Title:       kind.title,
			Description: "Current weather condition: " + kind.title,
			Location:    "City Wide",
			Latitude:    types.Float64(c.cfg.CenterLatitude),
			Longitude:   types.Float64(c.cfg.CenterLongitude),
			Metadata: map[string]float64{
				"temperature": c.uniform(0, 35),
				"humidity":    c.uniform(30, 90),
				"wind_speed":  c.uniform(0, 50),
				"visibility":  c.uniform(1, 10),
			},
			CreatedAt: now,
		})
	}
	return out
}

func (c *Collector) socialEvents(now time.Time) []types.Record {
	n := c.eventCount()
	out := make([]types.Record, 0, n)
	for i := 0; i < n; i++ {
		kind := socialKinds[c.rng.Intn(len(socialKinds))]
		venue := venues[c.rng.Intn(len(venues))]
		out = append(out, types.Event{
			ID:          c.newID(),
			Type:        types.EventSocial,
			Severity:    kind.severity,
			Title:       kind.title,
			Description: kind.title + " reported near " + venue,
			Location:    venue,
			Latitude:    types.Float64(c.cfg.CenterLatitude + c.uniform(-0.05, 0.05)),
			Longitude:   types.Float64(c.cfg.CenterLongitude + c.uniform(-0.05, 0.05)),
			Metadata: map[string]float64{
				"crowd_size":    float64(c.intBetween(50, 5000)),
				"mention_count": float64(c.intBetween(10, 1000)),
			},
			CreatedAt: now,
		})
	}
	return out
}

// sensorReadings produces one reading per sensor, followed by an alert event
// for every reading in the top of its kind's range
func (c *Collector) sensorReadings(now time.Time) []types.Record {
	out := make([]types.Record, 0, len(c.sensors))
	var alerts []types.Record

	for _, s := range c.sensors {
		lo, hi := s.Kind.Range()
		value := c.uniform(lo, hi)
		out = append(out, types.SensorReading{
			SensorID:  s.ID,
			Value:     value,
			Unit:      s.Kind.Unit(),
			Quality:   c.uniform(0.8, 1.0),
			Kind:      s.Kind,
			Timestamp: now,
		})

		threshold := lo + alertFraction*(hi-lo)
		if value < threshold {
			continue
		}
		severity := types.SeverityHigh
		if value >= lo+0.99*(hi-lo) {
			severity = types.SeverityCritical
		}
		alerts = append(alerts, types.Event{
			ID:          c.newID(),
			Type:        types.EventAlert,
			Severity:    severity,
			Title:       fmt.Sprintf("%s threshold exceeded on %s", s.Kind, s.ID),
			Description: fmt.Sprintf("%s reading %.1f%s above %.1f%s", s.Kind, value, s.Kind.Unit(), threshold, s.Kind.Unit()),
			Location:    fmt.Sprintf("%.4f, %.4f", s.Latitude, s.Longitude),
			Latitude:    types.Float64(s.Latitude),
			Longitude:   types.Float64(s.Longitude),
			Metadata: map[string]float64{
				"value":     value,
				"threshold": threshold,
			},
			CreatedAt: now,
		})
	}
	return append(out, alerts...)
}
