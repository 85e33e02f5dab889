package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	records  []types.Record
	err      error
}

func (p *recordingPublisher) Publish(channel string, rec types.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.records = append(p.records, rec)
	return nil
}

func (p *recordingPublisher) snapshot() []types.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Record, len(p.records))
	copy(out, p.records)
	return out
}

func countByType(recs []types.Record) (map[types.EventType]int, int) {
	byType := make(map[types.EventType]int)
	readings := 0
	for _, r := range recs {
		switch v := r.(type) {
		case types.Event:
			byType[v.Type]++
		case types.SensorReading:
			readings++
		}
	}
	return byType, readings
}

func testConfig() Config {
	return Config{
		Seed:             7,
		MaxEventsPerTick: 1,
		SensorCount:      5,
		CenterLatitude:   40.7128,
		CenterLongitude:  -74.0060,
	}
}

func TestTickHonoursIntervals(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(testConfig(), pub)
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		offset       time.Duration
		wantTraffic  int
		wantWeather  int
		wantSocial   int
		wantReadings int
	}{
		{offset: 0, wantTraffic: 1, wantWeather: 1, wantSocial: 1, wantReadings: 5},
		{offset: 1 * time.Second, wantReadings: 5},
		{offset: 1500 * time.Millisecond},
		{offset: 3 * time.Second, wantTraffic: 1, wantReadings: 5},
		{offset: 4 * time.Second, wantSocial: 1, wantReadings: 5},
		{offset: 5 * time.Second, wantWeather: 1, wantReadings: 5},
	}

	for _, tt := range tests {
		before := len(pub.snapshot())
		c.Tick(t0.Add(tt.offset))
		byType, readings := countByType(pub.snapshot()[before:])

		assert.Equal(t, tt.wantTraffic, byType[types.EventTraffic], "traffic at %s", tt.offset)
		assert.Equal(t, tt.wantWeather, byType[types.EventWeather], "weather at %s", tt.offset)
		assert.Equal(t, tt.wantSocial, byType[types.EventSocial], "social at %s", tt.offset)
		assert.Equal(t, tt.wantReadings, readings, "readings at %s", tt.offset)
	}
}

func TestRecordsGoToTheirChannels(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(testConfig(), pub)
	c.Tick(time.Now())

	require.NotEmpty(t, pub.channels)
	for i, rec := range pub.records {
		assert.Equal(t, rec.Channel(), pub.channels[i])
		if r, ok := rec.(types.SensorReading); ok {
			assert.Equal(t, "sensor:"+r.SensorID, pub.channels[i])
		} else {
			assert.Equal(t, types.ChannelEvents, pub.channels[i])
		}
	}
}

func TestReseedIsReproducible(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	run := func(seed int64) []types.Record {
		pub := &recordingPublisher{}
		cfg := testConfig()
		cfg.Seed = seed
		c := NewCollector(cfg, pub)
		for i := 0; i < 5; i++ {
			c.Tick(now.Add(time.Duration(i) * time.Second))
		}
		return pub.snapshot()
	}

	a := run(42)
	b := run(42)
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	other := run(43)
	assert.NotEqual(t, a, other)

	pub := &recordingPublisher{}
	c := NewCollector(testConfig(), pub)
	c.Tick(now)
	c.Reseed(42)
	before := len(pub.snapshot())
	for i := 0; i < 5; i++ {
		c.Tick(now.Add(time.Duration(i) * time.Second))
	}
	assert.Equal(t, a, pub.snapshot()[before:])
}

func TestValuesAreBounded(t *testing.T) {
	pub := &recordingPublisher{}
	cfg := testConfig()
	cfg.SensorCount = 20
	cfg.MaxEventsPerTick = 3
	c := NewCollector(cfg, pub)

	t0 := time.Now()
	for i := 0; i < 200; i++ {
		c.Tick(t0.Add(time.Duration(i) * 5 * time.Second))
	}

	for _, rec := range pub.snapshot() {
		switch v := rec.(type) {
		case types.Event:
			require.NoError(t, v.Validate())
			_, err := uuid.Parse(v.ID)
			require.NoError(t, err)

			switch v.Type {
			case types.EventTraffic:
				assert.GreaterOrEqual(t, v.Meta("congestion_level", -1), 0.5)
				assert.LessOrEqual(t, v.Meta("congestion_level", 2), 1.0)
				assert.GreaterOrEqual(t, v.Meta("estimated_delay", 0), 5.0)
				assert.LessOrEqual(t, v.Meta("estimated_delay", 99), 30.0)
				assert.GreaterOrEqual(t, v.Meta("affected_lanes", 0), 1.0)
				assert.LessOrEqual(t, v.Meta("affected_lanes", 9), 3.0)
			case types.EventWeather:
				assert.GreaterOrEqual(t, v.Meta("temperature", -1), 0.0)
				assert.LessOrEqual(t, v.Meta("temperature", 99), 35.0)
				assert.GreaterOrEqual(t, v.Meta("humidity", 0), 30.0)
				assert.LessOrEqual(t, v.Meta("humidity", 99), 90.0)
				assert.LessOrEqual(t, v.Meta("wind_speed", 99), 50.0)
				assert.GreaterOrEqual(t, v.Meta("visibility", 0), 1.0)
				assert.LessOrEqual(t, v.Meta("visibility", 99), 10.0)
			case types.EventAlert:
				assert.True(t, v.Severity.AtLeast(types.SeverityHigh))
			}
		case types.SensorReading:
			lo, hi := v.Kind.Range()
			assert.GreaterOrEqual(t, v.Value, lo)
			assert.LessOrEqual(t, v.Value, hi)
			assert.Equal(t, v.Kind.Unit(), v.Unit)
			assert.GreaterOrEqual(t, v.Quality, 0.8)
			assert.LessOrEqual(t, v.Quality, 1.0)
			assert.True(t, types.ValidSensorID(v.SensorID))
		}
	}
}

func TestSensorsAroundCenter(t *testing.T) {
	cfg := testConfig()
	cfg.SensorCount = 20
	c := NewCollector(cfg, &recordingPublisher{})

	sensors := c.Sensors()
	require.Len(t, sensors, 20)
	assert.Equal(t, "SENSOR_000", sensors[0].ID)
	for _, s := range sensors {
		assert.InDelta(t, cfg.CenterLatitude, s.Latitude, 0.1)
		assert.InDelta(t, cfg.CenterLongitude, s.Longitude, 0.1)
		assert.Contains(t, types.SensorKinds, s.Kind)
	}
}

func TestPanickingCategoryIsIsolated(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(testConfig(), pub)
	c.generators[CategoryTraffic] = func(time.Time) []types.Record {
		panic("boom")
	}

	before := testutil.ToFloat64(metrics.CollectorFailures.WithLabelValues(string(CategoryTraffic)))

	c.Tick(time.Now())

	byType, readings := countByType(pub.snapshot())
	assert.Zero(t, byType[types.EventTraffic])
	assert.Equal(t, 1, byType[types.EventWeather])
	assert.Equal(t, 1, byType[types.EventSocial])
	assert.Equal(t, 5, readings)

	after := testutil.ToFloat64(metrics.CollectorFailures.WithLabelValues(string(CategoryTraffic)))
	assert.Equal(t, before+1, after)

	// the generator lock is released after a panic
	assert.Equal(t, 5, c.SensorCount())
}

func TestPublishFailureDoesNotStopLaterTicks(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	c := NewCollector(testConfig(), pub)
	t0 := time.Now()

	assert.Zero(t, c.Tick(t0))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	// sensor readings plus any threshold alerts
	assert.GreaterOrEqual(t, c.Tick(t0.Add(time.Second)), 5)
}

func TestStartPublishesToBroker(t *testing.T) {
	broker := events.NewBroker()
	defer broker.Close()

	tap, err := broker.Tap("test")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Resolution = 10 * time.Millisecond
	c := NewCollector(cfg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	msg, err := tap.Next(waitCtx)
	require.NoError(t, err)
	assert.NotNil(t, msg.Record)

	c.Stop()
	c.Stop()
}
