package storage

import (
	"context"
	"errors"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBatchSize bounds the records written per transaction
const DefaultBatchSize = 256

// Recorder persists everything published on the broker. It reads a broker
// tap, so a slow disk drops the oldest records instead of slowing publishers.
type Recorder struct {
	store     Store
	batchSize int
	logger    zerolog.Logger
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:     store,
		batchSize: DefaultBatchSize,
		logger:    log.WithComponent("recorder"),
	}
}

// Run writes tapped records until ctx ends or the tap is released
func (r *Recorder) Run(ctx context.Context, tap *events.Subscription) error {
	for {
		msg, err := tap.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		msgs := append([]events.Message{msg}, tap.Drain(r.batchSize-1)...)
		r.Write(msgs)
	}
}

// Write persists one batch of broker messages. Failures are logged and
// counted; they never stop the recorder.
func (r *Recorder) Write(msgs []events.Message) {
	var batch Batch
	for _, m := range msgs {
		switch rec := m.Record.(type) {
		case types.Event:
			batch.Events = append(batch.Events, rec)
		case types.SensorReading:
			batch.Readings = append(batch.Readings, rec)
		}
	}
	if batch.Len() == 0 {
		return
	}

	status := "ok"
	if err := r.store.SaveBatch(batch); err != nil {
		status = "error"
		r.logger.Error().Err(err).
			Int("events", len(batch.Events)).
			Int("readings", len(batch.Readings)).
			Msg("Failed to persist batch")
	}

	if n := len(batch.Events); n > 0 {
		metrics.StorageWrites.WithLabelValues("event", status).Add(float64(n))
	}
	if n := len(batch.Readings); n > 0 {
		metrics.StorageWrites.WithLabelValues("reading", status).Add(float64(n))
	}
}
