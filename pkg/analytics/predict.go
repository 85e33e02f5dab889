package analytics

import (
	"fmt"
	"time"

	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
)

// Forecast methods
const (
	MethodFlat   = "flat"
	MethodLinear = "linear"
)

// MaxForecastHours bounds both the forecast horizon and the history used
const MaxForecastHours = maxHistoryHours

// HourlyPrediction is the expected event count for one future hour
type HourlyPrediction struct {
	Hour  time.Time `json:"hour"`
	Count float64   `json:"predicted_count"`
}

// Forecast is a short-horizon prediction of hourly event counts
type Forecast struct {
	EventType     types.EventType    `json:"event_type"`
	HorizonHours  int                `json:"horizon_hours"`
	Method        string             `json:"method"`
	HistoryPoints int                `json:"history_points"`
	Slope         float64            `json:"slope"`
	Predictions   []HourlyPrediction `json:"predictions"`
}

// Predict fits a least-squares line to the hourly counts of eventType, from
// the first hour it was seen (at most MaxForecastHours back) through the
// current hour, and extrapolates horizonHours ahead. With fewer than two
// hours of history the forecast is flat at the single observed count, or 0.
// Predictions never go below 0.
func (e *Engine) Predict(eventType types.EventType, horizonHours int) (Forecast, error) {
	if !eventType.Valid() {
		return Forecast{}, fmt.Errorf("unknown event type %q", eventType)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "predictions")

	if horizonHours < 1 {
		horizonHours = 1
	}
	if horizonHours > MaxForecastHours {
		horizonHours = MaxForecastHours
	}

	current := floorDiv(e.now().Unix(), 3600)
	history := e.hourlyHistory(eventType, current)

	fc := Forecast{
		EventType:     eventType,
		HorizonHours:  horizonHours,
		HistoryPoints: len(history),
		Predictions:   make([]HourlyPrediction, horizonHours),
	}

	var intercept, slope float64
	switch len(history) {
	case 0:
		fc.Method = MethodFlat
	case 1:
		fc.Method = MethodFlat
		intercept = history[0]
	default:
		fc.Method = MethodLinear
		intercept, slope = leastSquares(history)
	}
	fc.Slope = slope

	n := float64(len(history))
	for i := range fc.Predictions {
		y := intercept
		if fc.Method == MethodLinear {
			y = intercept + slope*(n+float64(i))
		}
		if y < 0 {
			y = 0
		}
		fc.Predictions[i] = HourlyPrediction{
			Hour:  time.Unix((current+1+int64(i))*3600, 0).UTC(),
			Count: y,
		}
	}
	return fc, nil
}

// hourlyHistory returns per-hour counts from the first observed hour through
// the current hour, zero-filled
func (e *Engine) hourlyHistory(eventType types.EventType, current int64) []float64 {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	first, ok := e.firstHr[eventType]
	if !ok {
		return nil
	}
	if oldest := current - MaxForecastHours + 1; first < oldest {
		first = oldest
	}
	if first > current {
		first = current
	}

	counts := e.hourly[eventType]
	out := make([]float64, 0, current-first+1)
	for h := first; h <= current; h++ {
		out = append(out, float64(counts[h]))
	}
	return out
}

// leastSquares fits y = a + b·x for x = 0..len(ys)-1
func leastSquares(ys []float64) (a, b float64) {
	n := float64(len(ys))
	var sx, sy, sxx, sxy float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return sy / n, 0
	}
	b = (n*sxy - sx*sy) / den
	a = (sy - b*sx) / n
	return a, b
}
