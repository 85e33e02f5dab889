package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/citypulse/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionSweep(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.SaveReading(types.SensorReading{
			SensorID:  "SENSOR_001",
			Value:     float64(i),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	r := NewRetention(store, 90*time.Minute, time.Minute)
	r.now = func() time.Time { return base.Add(3 * time.Hour) }

	removed, err := r.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := store.ListReadings("SENSOR_001", time.Time{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, 2.0, left[0].Value)
}

func TestRetentionDisabled(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveReading(types.SensorReading{SensorID: "SENSOR_001", Timestamp: base}))

	r := NewRetention(store, 0, 0)
	removed, err := r.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, r.Run(context.Background()))
}

type pruneFailingStore struct {
	Store
}

func (pruneFailingStore) PruneReadings(time.Time) (int, error) { return 0, errors.New("disk full") }

func TestRetentionSweepError(t *testing.T) {
	r := NewRetention(pruneFailingStore{}, time.Hour, time.Minute)
	_, err := r.Sweep()
	assert.Error(t, err)
}

func TestRetentionRunStopsOnCancel(t *testing.T) {
	r := NewRetention(newTestStore(t), time.Hour, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retention did not stop")
	}
}
