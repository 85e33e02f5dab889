package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAlerts struct {
	total, unresolved int
	err               error
}

func (f fakeAlerts) AlertCounts() (int, int, error) {
	return f.total, f.unresolved, f.err
}

func newTestEngine(cfg Config) (*Engine, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	return NewEngine(cfg), clock
}

func evt(typ types.EventType, sev types.Severity, at time.Time) types.Event {
	return types.Event{
		ID:        fmt.Sprintf("%s-%d", typ, at.UnixNano()),
		Type:      typ,
		Severity:  sev,
		Title:     string(typ) + " event",
		CreatedAt: at,
	}
}

func rd(sensorID string, v float64, at time.Time) types.SensorReading {
	return types.SensorReading{SensorID: sensorID, Value: v, Unit: "dB", Quality: 1, Kind: types.SensorNoise, Timestamp: at}
}

func TestOverviewDistributions(t *testing.T) {
	e, clock := newTestEngine(Config{TotalSensors: 20, Alerts: fakeAlerts{total: 4, unresolved: 1}})
	now := clock.Now()

	ov := e.Overview()
	assert.Len(t, ov.EventDistribution, len(types.EventTypes))
	assert.Len(t, ov.SeverityDistribution, len(types.Severities))
	for _, typ := range types.EventTypes {
		assert.Zero(t, ov.EventDistribution[typ])
	}

	e.Ingest(evt(types.EventTraffic, types.SeverityCritical, now))
	e.Ingest(evt(types.EventWeather, types.SeverityLow, now))
	e.Ingest(evt(types.EventTraffic, types.SeverityLow, now.Add(-2*time.Hour)))
	e.Ingest(rd("S1", 10, now))
	e.Ingest(rd("S2", 30, now))
	e.Ingest(rd("S3", 50, now.Add(-90*time.Minute)))

	ov = e.Overview()
	assert.Equal(t, uint64(3), ov.TotalEvents)
	assert.Equal(t, 2, ov.ActiveEvents)
	assert.Equal(t, 2, ov.EventDistribution[types.EventTraffic])
	assert.Equal(t, 1, ov.EventDistribution[types.EventWeather])
	assert.Equal(t, 0, ov.EventDistribution[types.EventSocial])
	assert.Equal(t, 1, ov.SeverityDistribution[types.SeverityCritical])
	assert.Equal(t, 2, ov.SeverityDistribution[types.SeverityLow])
	assert.Equal(t, 20, ov.TotalSensors)
	assert.Equal(t, 2, ov.ActiveSensors)
	assert.InDelta(t, 30.0, ov.AvgSensorValue, 1e-9)
	assert.Equal(t, 4, ov.TotalAlerts)
	assert.Equal(t, 1, ov.UnresolvedAlerts)
}

func TestOverviewAlertCounterFailure(t *testing.T) {
	e, _ := newTestEngine(Config{Alerts: fakeAlerts{total: 9, err: errors.New("db closed")}})

	ov := e.Overview()
	assert.Zero(t, ov.TotalAlerts)
	assert.Zero(t, ov.UnresolvedAlerts)
	assert.Zero(t, ov.TotalSensors)
}

func TestActiveEventsExpire(t *testing.T) {
	e, clock := newTestEngine(Config{})

	e.Ingest(evt(types.EventSocial, types.SeverityLow, clock.Now()))
	assert.Equal(t, 1, e.Overview().ActiveEvents)

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, e.Overview().ActiveEvents)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 0, e.Overview().ActiveEvents)
	assert.Equal(t, uint64(1), e.Overview().TotalEvents)
}

func TestIngestPreEpochEvent(t *testing.T) {
	e, clock := newTestEngine(Config{})
	old := time.Date(1969, 12, 31, 23, 30, 0, 0, time.UTC)

	require.NotPanics(t, func() {
		e.Ingest(evt(types.EventTraffic, types.SeverityLow, old))
	})
	ov := e.Overview()
	assert.Equal(t, uint64(1), ov.TotalEvents)
	assert.Zero(t, ov.ActiveEvents)

	// a clock before the epoch still counts its own minute as active
	clock.mu.Lock()
	clock.now = old
	clock.mu.Unlock()
	e.Ingest(evt(types.EventWeather, types.SeverityLow, old))
	assert.Equal(t, 2, e.Overview().ActiveEvents)
}

func TestFloorDivMod(t *testing.T) {
	assert.Equal(t, int64(-1), floorDiv(-30, 60))
	assert.Equal(t, int64(-1), floorDiv(-60, 60))
	assert.Equal(t, int64(0), floorDiv(59, 60))
	assert.Equal(t, int64(30), floorMod(-30, 60))
	assert.Equal(t, int64(0), floorMod(-60, 60))
}

func TestReset(t *testing.T) {
	e, clock := newTestEngine(Config{})
	now := clock.Now()

	e.Ingest(evt(types.EventTraffic, types.SeverityHigh, now))
	e.Ingest(rd("S1", 12, now))

	e.Reset()

	ov := e.Overview()
	assert.Zero(t, ov.TotalEvents)
	assert.Zero(t, ov.ActiveEvents)
	assert.Zero(t, ov.ActiveSensors)
	assert.Zero(t, ov.AvgSensorValue)
	assert.Zero(t, ov.EventDistribution[types.EventTraffic])
	assert.Empty(t, e.DetectAnomalies("S1", 60))
	assert.Zero(t, e.TrafficSummary().IncidentCount)

	fc, err := e.Predict(types.EventTraffic, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, fc.HistoryPoints)
}

func TestRunConsumesTap(t *testing.T) {
	broker := events.NewBroker()
	defer broker.Close()

	tap, err := broker.Tap("analytics")
	require.NoError(t, err)

	e, clock := newTestEngine(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, tap) }()

	require.NoError(t, broker.PublishRecord(evt(types.EventTraffic, types.SeverityCritical, clock.Now())))
	require.NoError(t, broker.PublishRecord(rd("S1", 1, clock.Now())))

	require.Eventually(t, func() bool {
		return e.Overview().EventDistribution[types.EventTraffic] == 1 && e.Overview().ActiveSensors == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsWhenTapReleased(t *testing.T) {
	broker := events.NewBroker()
	tap, err := broker.Tap("analytics")
	require.NoError(t, err)

	e, _ := newTestEngine(Config{})
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), tap) }()

	broker.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after broker close")
	}
}

func TestConcurrentIngestAndQuery(t *testing.T) {
	e, clock := newTestEngine(Config{})
	now := clock.Now()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("S%d", s)
			for i := 0; i < 200; i++ {
				e.Ingest(rd(id, float64(i%10), now))
				if i%50 == 0 {
					e.DetectAnomalies(id, 60)
					e.Overview()
				}
			}
		}(s)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Ingest(evt(types.EventTraffic, types.SeverityMedium, now))
		}
	}()
	wg.Wait()

	ov := e.Overview()
	assert.Equal(t, 8, ov.ActiveSensors)
	assert.Equal(t, 200, ov.EventDistribution[types.EventTraffic])
	assert.InDelta(t, 4.5, ov.AvgSensorValue, 1e-9)
}

func TestWindowCapacityOverwritesOldest(t *testing.T) {
	e, clock := newTestEngine(Config{WindowCapacity: 4})
	now := clock.Now()

	for i := 0; i < 6; i++ {
		e.Ingest(rd("S1", float64(i), now.Add(time.Duration(i)*time.Second)))
	}
	clock.Advance(10 * time.Second)

	recs := e.DetectAnomalies("S1", 60)
	require.Len(t, recs, 4)
	for i, r := range recs {
		assert.Equal(t, float64(i+2), r.Value)
	}
}
