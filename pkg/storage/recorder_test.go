package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderPersistsTappedRecords(t *testing.T) {
	store := newTestStore(t)
	broker := events.NewBroker()
	defer broker.Close()

	tap, err := broker.Tap("recorder")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRecorder(store).Run(ctx, tap) }()

	require.NoError(t, broker.PublishRecord(testEvent("e1", types.EventTraffic, base)))
	require.NoError(t, broker.PublishRecord(testEvent("al", types.EventAlert, base)))
	require.NoError(t, broker.PublishRecord(types.SensorReading{
		SensorID:  "SENSOR_003",
		Value:     42,
		Unit:      "dB",
		Timestamp: base,
	}))

	require.Eventually(t, func() bool {
		evs, err := store.ListEvents(EventFilter{})
		if err != nil || len(evs) != 2 {
			return false
		}
		rds, err := store.ListReadings("SENSOR_003", time.Time{})
		return err == nil && len(rds) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, unresolved, err := store.AlertCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, unresolved)

	cancel()
	assert.NoError(t, <-done)
}

func TestRecorderStopsWhenTapReleased(t *testing.T) {
	broker := events.NewBroker()
	tap, err := broker.Tap("recorder")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- NewRecorder(newTestStore(t)).Run(context.Background(), tap) }()

	broker.Untap("recorder")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

type failingStore struct {
	Store
}

func (failingStore) SaveBatch(Batch) error { return errors.New("disk full") }

func TestRecorderCountsFailures(t *testing.T) {
	before := testutil.ToFloat64(metrics.StorageWrites.WithLabelValues("reading", "error"))

	NewRecorder(failingStore{}).Write([]events.Message{
		{Channel: "sensor:S1", Record: types.SensorReading{SensorID: "S1", Timestamp: base}},
		{Channel: "sensor:S1", Record: types.SensorReading{SensorID: "S1", Timestamp: base.Add(time.Second)}},
	})

	after := testutil.ToFloat64(metrics.StorageWrites.WithLabelValues("reading", "error"))
	assert.Equal(t, 2.0, after-before)
}
