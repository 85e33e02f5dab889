package analytics

import (
	"testing"
	"time"

	"github.com/cuemby/citypulse/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrafficSummaryEmpty(t *testing.T) {
	e, _ := newTestEngine(Config{})

	sum := e.TrafficSummary()
	assert.Zero(t, sum.CongestionLevel)
	assert.Zero(t, sum.AverageSpeed)
	assert.Zero(t, sum.IncidentCount)
	assert.NotNil(t, sum.AffectedAreas)
	assert.Empty(t, sum.AffectedAreas)
	assert.Empty(t, sum.PeakHours)
}

func TestTrafficSummary(t *testing.T) {
	e, clock := newTestEngine(Config{})
	day := clock.Now().Truncate(24 * time.Hour)

	add := func(hour int, location string, congestion, speed float64) {
		ev := evt(types.EventTraffic, types.SeverityMedium, day.Add(time.Duration(hour)*time.Hour))
		ev.Location = location
		ev.Metadata = map[string]float64{"congestion_level": congestion, "average_speed": speed}
		e.Ingest(ev)
	}

	add(8, "Broadway", 0.6, 40)
	add(8, "Park Ave", 0.8, 20)
	add(9, "Broadway", 0.7, 30)
	add(17, "Fifth Ave", 0.9, 10)
	add(17, "Canal St", 0.5, 50)
	add(17, "Houston St", 0.6, 40)
	add(18, "Madison Ave", 0.9, 10)
	e.Ingest(evt(types.EventWeather, types.SeverityLow, day))

	sum := e.TrafficSummary()
	assert.Equal(t, 7, sum.IncidentCount)
	assert.InDelta(t, 5.0/7.0, sum.CongestionLevel, 1e-9)
	assert.InDelta(t, 200.0/7.0, sum.AverageSpeed, 1e-9)
	assert.Equal(t, []int{17, 8, 9}, sum.PeakHours)
	assert.Equal(t, map[int]int{8: 2, 9: 1, 17: 3, 18: 1}, sum.HourlyDistribution)

	require.Len(t, sum.AffectedAreas, 5)
	// newest first
	assert.Equal(t, []string{"Madison Ave", "Houston St", "Canal St", "Fifth Ave", "Broadway"}, sum.AffectedAreas)
}

func TestTrafficSummaryKeepsLastHundred(t *testing.T) {
	e, clock := newTestEngine(Config{})
	for i := 0; i < 150; i++ {
		ev := evt(types.EventTraffic, types.SeverityLow, clock.Now())
		level := 0.5
		if i >= 50 {
			level = 1.0
		}
		ev.Metadata = map[string]float64{"congestion_level": level}
		e.Ingest(ev)
	}

	sum := e.TrafficSummary()
	assert.Equal(t, 100, sum.IncidentCount)
	assert.InDelta(t, 1.0, sum.CongestionLevel, 1e-9)
}

func TestWeatherSummaryDefaults(t *testing.T) {
	e, _ := newTestEngine(Config{})

	sum := e.WeatherSummary()
	assert.Equal(t, 20.0, sum.Temperature)
	assert.Equal(t, 20.0, sum.FeelsLike)
	assert.Equal(t, 50.0, sum.Humidity)
	assert.Equal(t, 10.0, sum.WindSpeed)
	assert.Equal(t, "Clear", sum.Conditions)
	assert.Empty(t, sum.Alerts)
}

func TestWeatherSummary(t *testing.T) {
	e, clock := newTestEngine(Config{})
	now := clock.Now()

	add := func(offset time.Duration, title string, sev types.Severity, temp, humidity, wind float64) {
		ev := evt(types.EventWeather, sev, now.Add(offset))
		ev.Title = title
		ev.Metadata = map[string]float64{"temperature": temp, "humidity": humidity, "wind_speed": wind}
		e.Ingest(ev)
	}

	add(-50*time.Minute, "Thunderstorm", types.SeverityHigh, 18, 80, 40)
	add(-40*time.Minute, "Heavy Rain", types.SeverityMedium, 19, 85, 30)
	add(-30*time.Minute, "Snow", types.SeverityCritical, 1, 70, 20)
	add(-20*time.Minute, "Thunderstorm", types.SeverityHigh, 17, 90, 45)
	add(-15*time.Minute, "Hail", types.SeverityHigh, 15, 75, 35)
	add(-10*time.Minute, "Light Rain", types.SeverityLow, 22, 60, 15)

	sum := e.WeatherSummary()
	assert.Equal(t, 22.0, sum.Temperature)
	assert.InDelta(t, 19.0, sum.FeelsLike, 1e-9)
	assert.Equal(t, 60.0, sum.Humidity)
	assert.Equal(t, 15.0, sum.WindSpeed)
	assert.Equal(t, "Light Rain", sum.Conditions)
	assert.Equal(t, []string{"Hail", "Thunderstorm", "Snow"}, sum.Alerts)
}
