package analytics

import (
	"sort"

	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
)

const (
	maxAffectedAreas = 5
	maxPeakHours     = 3
	maxWeatherAlerts = 3
)

// TrafficSummary describes recent traffic events
type TrafficSummary struct {
	CongestionLevel    float64     `json:"current_congestion_level"`
	AverageSpeed       float64     `json:"average_speed"`
	IncidentCount      int         `json:"incident_count"`
	AffectedAreas      []string    `json:"affected_areas"`
	PeakHours          []int       `json:"peak_hours"`
	HourlyDistribution map[int]int `json:"hourly_distribution"`
}

// TrafficSummary summarizes the most recent traffic events
func (e *Engine) TrafficSummary() TrafficSummary {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "traffic")

	e.eventsMu.Lock()
	recent := e.traffic.newestFirst()
	e.eventsMu.Unlock()

	sum := TrafficSummary{
		AffectedAreas:      []string{},
		PeakHours:          []int{},
		HourlyDistribution: map[int]int{},
		IncidentCount:      len(recent),
	}
	if len(recent) == 0 {
		return sum
	}

	var congestion, speed float64
	var nCongestion, nSpeed int
	seen := make(map[string]bool)
	for _, ev := range recent {
		if v, ok := ev.Metadata["congestion_level"]; ok {
			congestion += v
			nCongestion++
		}
		if v, ok := ev.Metadata["average_speed"]; ok {
			speed += v
			nSpeed++
		}
		if ev.Location != "" && !seen[ev.Location] && len(sum.AffectedAreas) < maxAffectedAreas {
			seen[ev.Location] = true
			sum.AffectedAreas = append(sum.AffectedAreas, ev.Location)
		}
		sum.HourlyDistribution[ev.CreatedAt.Hour()]++
	}
	if nCongestion > 0 {
		sum.CongestionLevel = congestion / float64(nCongestion)
	}
	if nSpeed > 0 {
		sum.AverageSpeed = speed / float64(nSpeed)
	}

	hours := make([]int, 0, len(sum.HourlyDistribution))
	for h := range sum.HourlyDistribution {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		ci, cj := sum.HourlyDistribution[hours[i]], sum.HourlyDistribution[hours[j]]
		if ci != cj {
			return ci > cj
		}
		return hours[i] < hours[j]
	})
	if len(hours) > maxPeakHours {
		hours = hours[:maxPeakHours]
	}
	sum.PeakHours = hours
	return sum
}

// WeatherSummary describes current weather conditions
type WeatherSummary struct {
	Temperature float64  `json:"current_temperature"`
	FeelsLike   float64  `json:"feels_like"`
	Humidity    float64  `json:"humidity"`
	WindSpeed   float64  `json:"wind_speed"`
	Conditions  string   `json:"conditions"`
	Alerts      []string `json:"alerts"`
}

// WeatherSummary reports the latest weather event and the severe conditions
// among the most recent ones
func (e *Engine) WeatherSummary() WeatherSummary {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "weather")

	e.eventsMu.Lock()
	recent := e.weather.newestFirst()
	e.eventsMu.Unlock()

	if len(recent) == 0 {
		return WeatherSummary{
			Temperature: 20,
			FeelsLike:   20,
			Humidity:    50,
			WindSpeed:   10,
			Conditions:  "Clear",
			Alerts:      []string{},
		}
	}

	latest := recent[0]
	temp := latest.Meta("temperature", 20)
	wind := latest.Meta("wind_speed", 10)

	sum := WeatherSummary{
		Temperature: temp,
		FeelsLike:   temp - 0.2*wind,
		Humidity:    latest.Meta("humidity", 50),
		WindSpeed:   wind,
		Conditions:  latest.Title,
		Alerts:      []string{},
	}
	for _, ev := range recent {
		if len(sum.Alerts) == maxWeatherAlerts {
			break
		}
		if ev.Severity.AtLeast(types.SeverityHigh) {
			sum.Alerts = append(sum.Alerts, ev.Title)
		}
	}
	return sum
}
