package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(sensorID string, v float64) types.SensorReading {
	return types.SensorReading{SensorID: sensorID, Value: v, Unit: "°C", Quality: 1, Timestamp: time.Now()}
}

func event(title string) types.Event {
	return types.Event{ID: title, Type: types.EventTraffic, Severity: types.SeverityLow, Title: title, CreatedAt: time.Now()}
}

func values(msgs []Message) []float64 {
	out := make([]float64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Record.(types.SensorReading).Value)
	}
	return out
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub, err := b.Subscribe("sensor:S1", "conn-1")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish("sensor:S1", reading("S1", float64(i))))
	}

	msgs := sub.Drain(0)
	require.Len(t, msgs, 50)
	for i, m := range msgs {
		assert.Equal(t, float64(i), m.Record.(types.SensorReading).Value)
		if i > 0 {
			assert.Greater(t, m.Seq, msgs[i-1].Seq)
		}
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	first, err := b.Subscribe(types.ChannelEvents, "conn-1")
	require.NoError(t, err)
	second, err := b.Subscribe(types.ChannelEvents, "conn-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, b.SubscriberCount(types.ChannelEvents))

	require.NoError(t, b.Publish(types.ChannelEvents, event("a")))
	assert.Equal(t, 1, first.Len())
}

func TestResubscribeDoesNotSeeMessagesPublishedInBetween(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	old, err := b.Subscribe(types.ChannelEvents, "conn-1")
	require.NoError(t, err)

	require.True(t, b.Unsubscribe(types.ChannelEvents, "conn-1"))
	assert.True(t, old.Closed())

	require.NoError(t, b.Publish(types.ChannelEvents, event("between")))

	fresh, err := b.Subscribe(types.ChannelEvents, "conn-1")
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)

	require.NoError(t, b.Publish(types.ChannelEvents, event("after")))

	msgs := fresh.Drain(0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "after", msgs[0].Record.(types.Event).Title)
	assert.Equal(t, 0, old.Len())
}

func TestStalledSubscriberKeepsMostRecent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub, err := b.Subscribe("sensor:S1", "slow")
	require.NoError(t, err)
	require.Equal(t, 100, sub.Cap())

	for i := 0; i < 150; i++ {
		require.NoError(t, b.Publish("sensor:S1", reading("S1", float64(i))))
	}

	assert.Equal(t, uint64(50), sub.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []float64
	for sub.Len() > 0 {
		m, err := sub.Next(ctx)
		require.NoError(t, err)
		got = append(got, m.Record.(types.SensorReading).Value)
	}

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, float64(50+i), v)
	}
	assert.Equal(t, uint64(50), b.Stats().Dropped)
}

func TestPublishWithoutSubscribersIsNotAnError(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	assert.NoError(t, b.Publish("sensor:nobody", reading("nobody", 1)))
	assert.Equal(t, 0, b.Stats().Channels)
	assert.Equal(t, uint64(1), b.Stats().Published)
}

func TestChannelLifecycle(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	_, err := b.Subscribe("sensor:S1", "a")
	require.NoError(t, err)
	_, err = b.Subscribe("sensor:S1", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats().Channels)

	assert.True(t, b.Unsubscribe("sensor:S1", "a"))
	assert.Equal(t, 1, b.Stats().Channels)

	assert.True(t, b.Unsubscribe("sensor:S1", "b"))
	assert.Equal(t, 0, b.Stats().Channels)

	assert.False(t, b.Unsubscribe("sensor:S1", "b"))
}

func TestInvalidChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	_, err := b.Subscribe("weather", "conn")
	assert.True(t, errors.Is(err, ErrInvalidChannel))

	err = b.Publish("sensor:has space", reading("x", 1))
	assert.True(t, errors.Is(err, ErrInvalidChannel))

	_, err = b.Subscribe(types.ChannelEvents, "")
	assert.Error(t, err)
}

func TestTapReceivesEveryChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	tap, err := b.Tap("analytics")
	require.NoError(t, err)
	again, err := b.Tap("analytics")
	require.NoError(t, err)
	assert.Same(t, tap, again)

	require.NoError(t, b.PublishRecord(event("a")))
	require.NoError(t, b.PublishRecord(reading("S1", 1)))
	require.NoError(t, b.PublishRecord(reading("S2", 2)))

	msgs := tap.Drain(0)
	require.Len(t, msgs, 3)
	assert.Equal(t, "events", msgs[0].Channel)
	assert.Equal(t, "sensor:S1", msgs[1].Channel)
	assert.Equal(t, "sensor:S2", msgs[2].Channel)

	assert.True(t, b.Untap("analytics"))
	assert.True(t, tap.Closed())
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	b := NewBroker()

	sub, err := b.Subscribe(types.ChannelEvents, "conn")
	require.NoError(t, err)
	tap, err := b.Tap("storage")
	require.NoError(t, err)

	b.Close()
	b.Close()

	assert.True(t, sub.Closed())
	assert.True(t, tap.Closed())
	assert.ErrorIs(t, b.Publish(types.ChannelEvents, event("late")), ErrBrokerClosed)

	_, err = b.Subscribe(types.ChannelEvents, "conn")
	assert.ErrorIs(t, err, ErrBrokerClosed)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestConcurrentPublishersPreservePerChannelOrder(t *testing.T) {
	b := NewBroker(WithQueueSize(1000))
	defer b.Close()

	const channels = 8
	const perChannel = 100

	subs := make([]*Subscription, channels)
	for i := range subs {
		var err error
		subs[i], err = b.Subscribe(fmt.Sprintf("sensor:S%d", i), "observer")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < channels; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("sensor:S%d", i)
			for n := 0; n < perChannel; n++ {
				assert.NoError(t, b.Publish(name, reading(fmt.Sprintf("S%d", i), float64(n))))
			}
		}(i)
	}

	// churn unrelated subscriptions while publishing
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 200; n++ {
			id := fmt.Sprintf("churn-%d", n)
			_, err := b.Subscribe("sensor:S0", id)
			assert.NoError(t, err)
			b.Unsubscribe("sensor:S0", id)
		}
	}()
	wg.Wait()

	for i, sub := range subs {
		got := values(sub.Drain(0))
		require.Len(t, got, perChannel, "channel %d", i)
		for n, v := range got {
			assert.Equal(t, float64(n), v)
		}
	}
}

func TestWakeupSignalsSharedChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	wake := make(chan struct{}, 1)
	_, err := b.Subscribe(types.ChannelEvents, "conn", WithWakeup(wake))
	require.NoError(t, err)
	_, err = b.Subscribe("sensor:S1", "conn", WithWakeup(wake))
	require.NoError(t, err)

	require.NoError(t, b.Publish("sensor:S1", reading("S1", 1)))

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("wakeup not signalled")
	}
}

func TestNextHonoursContext(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub, err := b.Subscribe(types.ChannelEvents, "conn")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextWakesOnPublish(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub, err := b.Subscribe(types.ChannelEvents, "conn")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Publish(types.ChannelEvents, event("late"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", m.Record.(types.Event).Title)
}

func TestChannelLifecycleIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: &buf})
	defer log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	b := NewBroker()
	defer b.Close()

	_, err := b.Subscribe("sensor:S1", "c1")
	require.NoError(t, err)
	b.Unsubscribe("sensor:S1", "c1")

	var messages []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		if entry["channel"] != "sensor:S1" {
			continue
		}
		assert.Equal(t, "broker", entry["component"])
		messages = append(messages, entry["message"].(string))
	}
	assert.Equal(t, []string{"channel created", "channel released"}, messages)
}
