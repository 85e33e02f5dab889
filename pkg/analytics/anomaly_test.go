package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAnomalies(t *testing.T) {
	tests := []struct {
		name        string
		values      []float64
		wantFlagged []bool
	}{
		{
			name:        "single outlier",
			values:      []float64{10, 10, 10, 10, 100},
			wantFlagged: []bool{false, false, false, false, true},
		},
		{
			name:        "constant window",
			values:      []float64{5, 5, 5, 5, 5},
			wantFlagged: []bool{false, false, false, false, false},
		},
		{
			name:        "too few samples",
			values:      []float64{1, 1000},
			wantFlagged: []bool{false, false},
		},
		{
			name:        "gradual change",
			values:      []float64{10, 11, 12, 13, 14, 15},
			wantFlagged: []bool{false, false, false, false, false, false},
		},
		{
			name:        "low outlier in noisy window",
			values:      []float64{50, 52, 49, 51, 50, 48, 51, 50, 52, 49, 0},
			wantFlagged: []bool{false, false, false, false, false, false, false, false, false, false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, clock := newTestEngine(Config{})
			start := clock.Now().Add(-time.Duration(len(tt.values)) * time.Minute)
			for i, v := range tt.values {
				e.Ingest(rd("S1", v, start.Add(time.Duration(i)*time.Minute)))
			}

			recs := e.DetectAnomalies("S1", 60)
			require.Len(t, recs, len(tt.values))
			for i, r := range recs {
				assert.Equal(t, "S1", r.SensorID)
				assert.Equal(t, tt.values[i], r.Value)
				assert.Equal(t, tt.wantFlagged[i], r.Anomaly, "reading %d (z=%f)", i, r.ZScore)
				if i > 0 {
					assert.False(t, r.Timestamp.Before(recs[i-1].Timestamp))
				}
			}
		})
	}
}

func TestDetectAnomaliesScores(t *testing.T) {
	e, clock := newTestEngine(Config{})
	now := clock.Now()
	for i, v := range []float64{10, 10, 10, 10, 100} {
		e.Ingest(rd("S1", v, now.Add(time.Duration(i-5)*time.Minute)))
	}

	recs := e.DetectAnomalies("S1", 60)
	require.Len(t, recs, 5)

	for _, r := range recs[:4] {
		// scored against [10, 10, 10, 100]: mean 32.5, sigma 38.97
		assert.InDelta(t, -0.577, r.ZScore, 0.001)
		assert.InDelta(t, -22.5, r.Deviation, 1e-9)
		assert.InDelta(t, 32.5-3*38.971, r.ExpectedRange[0], 0.01)
		assert.InDelta(t, 32.5+3*38.971, r.ExpectedRange[1], 0.01)
	}

	// against a constant remainder the score is capped, the deviation is not
	outlier := recs[4]
	assert.Equal(t, DefaultMaxZScore, outlier.ZScore)
	assert.True(t, outlier.Anomaly)
	assert.InDelta(t, 90.0, outlier.Deviation, 1e-9)
	assert.InDelta(t, 10.0, outlier.ExpectedRange[0], 1e-9)
	assert.InDelta(t, 10.0, outlier.ExpectedRange[1], 1e-9)
	assert.False(t, math.IsInf(outlier.ZScore, 0))
	assert.False(t, math.IsNaN(outlier.ZScore))
}

func TestDetectAnomaliesScoreCap(t *testing.T) {
	e, clock := newTestEngine(Config{MaxZScore: 50})
	now := clock.Now()
	for i, v := range []float64{10, 10, 10, 10, -5} {
		e.Ingest(rd("S1", v, now.Add(time.Duration(i-5)*time.Minute)))
	}

	recs := e.DetectAnomalies("S1", 60)
	require.Len(t, recs, 5)
	assert.Equal(t, -50.0, recs[4].ZScore)
	assert.InDelta(t, -15.0, recs[4].Deviation, 1e-9)
	assert.True(t, recs[4].Anomaly)
}

func TestDetectAnomaliesConstantWindowScoresZero(t *testing.T) {
	e, clock := newTestEngine(Config{})
	for i := 0; i < 10; i++ {
		e.Ingest(rd("S1", 21.5, clock.Now().Add(-time.Duration(i)*time.Second)))
	}

	for _, r := range e.DetectAnomalies("S1", 60) {
		assert.Zero(t, r.ZScore)
		assert.False(t, r.Anomaly)
	}
}

func TestDetectAnomaliesLookback(t *testing.T) {
	e, clock := newTestEngine(Config{Horizon: 30 * time.Minute})
	now := clock.Now()

	e.Ingest(rd("S1", 1, now.Add(-45*time.Minute)))
	e.Ingest(rd("S1", 2, now.Add(-20*time.Minute)))
	e.Ingest(rd("S1", 3, now.Add(-5*time.Minute)))
	e.Ingest(rd("S1", 4, now.Add(-30*time.Second)))

	tests := []struct {
		lookback int
		want     []float64
	}{
		{lookback: 10, want: []float64{3, 4}},
		{lookback: 0, want: []float64{4}},
		{lookback: -5, want: []float64{4}},
		{lookback: 25, want: []float64{2, 3, 4}},
		{lookback: 1440, want: []float64{2, 3, 4}},
	}

	for _, tt := range tests {
		recs := e.DetectAnomalies("S1", tt.lookback)
		got := make([]float64, 0, len(recs))
		for _, r := range recs {
			got = append(got, r.Value)
		}
		assert.Equal(t, tt.want, got, "lookback %d", tt.lookback)
	}
}

func TestDetectAnomaliesUnknownSensor(t *testing.T) {
	e, _ := newTestEngine(Config{})
	recs := e.DetectAnomalies("missing", 60)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestCustomThreshold(t *testing.T) {
	e, clock := newTestEngine(Config{AnomalyThreshold: 0.5})
	for i, v := range []float64{10, 10, 10, 10, 100} {
		e.Ingest(rd("S1", v, clock.Now().Add(-time.Duration(5-i)*time.Minute)))
	}

	recs := e.DetectAnomalies("S1", 60)
	flagged := 0
	for _, r := range recs {
		if r.Anomaly {
			flagged++
		}
	}
	assert.Equal(t, 5, flagged)
}
