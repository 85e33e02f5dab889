package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
)

// minAnomalySamples is the smallest lookback population that is scored
const minAnomalySamples = 3

// DetectAnomalies scores every reading of sensorID inside the lookback,
// oldest first. Each reading is compared with the mean and population
// standard deviation of the other readings in the lookback. When every
// reading is equal all scores are 0. The lookback is clamped to
// [1, horizon] minutes. An unknown sensor yields an empty result.
func (e *Engine) DetectAnomalies(sensorID string, lookbackMinutes int) []types.AnomalyRecord {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "anomalies")

	w := e.windowFor(sensorID, false)
	if w == nil {
		return []types.AnomalyRecord{}
	}

	lookback := time.Duration(lookbackMinutes) * time.Minute
	if lookback < time.Minute {
		lookback = time.Minute
	}
	if lookback > e.cfg.Horizon {
		lookback = e.cfg.Horizon
	}

	samples := w.since(e.now().Add(-lookback))
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].at.Before(samples[j].at)
	})

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}
	scores := e.zScores(values)

	out := make([]types.AnomalyRecord, len(samples))
	for i, s := range samples {
		sc := scores[i]
		spread := e.cfg.AnomalyThreshold * sc.sigma
		out[i] = types.AnomalyRecord{
			SensorID:      sensorID,
			Value:         s.value,
			ZScore:        sc.z,
			Deviation:     sc.deviation,
			ExpectedRange: [2]float64{sc.center - spread, sc.center + spread},
			Anomaly:       math.Abs(sc.z) >= e.cfg.AnomalyThreshold,
			Timestamp:     s.at,
		}
	}
	return out
}

// score is one reading measured against the other readings of its lookback
type score struct {
	z         float64
	deviation float64
	center    float64
	sigma     float64
}

// zScores computes leave-one-out z-scores. Values are centered on the
// overall mean first so the per-item variance does not lose precision.
func (e *Engine) zScores(values []float64) []score {
	n := len(values)
	scores := make([]score, n)
	if n == 0 {
		return scores
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	for i := range scores {
		scores[i].center = mean
	}
	if n < minAnomalySamples {
		return scores
	}

	var sum, sumSq float64
	for _, v := range values {
		d := v - mean
		sum += d
		sumSq += d * d
	}
	if sumSq == 0 {
		return scores
	}

	// residual variance below this is rounding noise of a constant remainder
	noise := sumSq / float64(n) * 1e-12
	others := float64(n - 1)

	for i, v := range values {
		d := v - mean
		mu := (sum - d) / others
		variance := (sumSq-d*d)/others - mu*mu
		if variance <= noise {
			variance = 0
		}
		sigma := math.Sqrt(variance)
		scaled := max(sigma, e.cfg.MinStdDev)

		z := (d - mu) / scaled
		z = max(-e.cfg.MaxZScore, min(e.cfg.MaxZScore, z))
		scores[i] = score{z: z, deviation: d - mu, center: mean + mu, sigma: sigma}
	}
	return scores
}
