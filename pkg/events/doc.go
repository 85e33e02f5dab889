/*
Package events provides the in-memory channel broker for CityPulse.

The broker fans records out from producers (the collector) to consumers
(WebSocket connections, the analytics engine, the storage recorder and the
NATS bridge). Consumers attach to named channels; the broker never blocks a
publisher on a slow consumer.

# Architecture

	┌───────────────────────── BROKER ─────────────────────────┐
	│                                                            │
	│  Publish("sensor:S1", reading)                             │
	│        │                                                   │
	│        ▼  fnv32a(name) % 32                                │
	│  ┌──────────┬──────────┬──────────┬─── ... ───┐           │
	│  │ shard 0  │ shard 1  │ shard 2  │  shard 31 │           │
	│  │ RWMutex  │ RWMutex  │ RWMutex  │  RWMutex  │           │
	│  └────┬─────┴──────────┴──────────┴───────────┘           │
	│       │ channels map                                       │
	│       ▼                                                    │
	│  ┌───────────────────────┐                                 │
	│  │ channel "sensor:S1"   │  mutex per channel              │
	│  │  conn-a → ring(100)   │                                 │
	│  │  conn-b → ring(100)   │                                 │
	│  └───────────────────────┘                                 │
	│                                                            │
	│  taps: analytics, recent, storage, bridge → ring(N)        │
	└────────────────────────────────────────────────────────────┘

Channels are created on the first Subscribe and released when the last
subscriber leaves. Publishing to a channel nobody listens to is not an
error; the record still reaches every tap.

# Channels

	events           every Event (traffic, weather, social, alert, sensor)
	sensor:<id>      readings of one sensor, id matching [A-Za-z0-9_-]{1,100}

# Ordering

Within one channel every subscriber and every tap observes publish order.
Publish holds the shard read lock plus the channel mutex (or the shard's
orphan mutex when the channel has no subscribers), and assigns the sequence
number while holding it. Sequence numbers are global and strictly increasing
per channel; there is no ordering across channels.

# Backpressure

Each Subscription owns a fixed ring. When a consumer stalls and the ring is
full, the oldest message is discarded, the subscription's Dropped counter is
incremented and citypulse_messages_dropped_total is updated. A consumer that
catches up therefore always sees the most recent messages.

# Usage

	broker := events.NewBroker()
	defer broker.Close()

	sub, err := broker.Subscribe("events", connID, events.WithWakeup(wake))
	if err != nil {
		return err
	}
	defer broker.Unsubscribe("events", connID)

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		handle(msg.Record)
	}

Taps receive every channel:

	tap, _ := broker.Tap("analytics")
	go engine.Run(ctx, tap)

# Thread Safety

All Broker and Subscription methods are safe for concurrent use. Subscribe
and Unsubscribe take the shard write lock, so they are exclusive per shard
and independent across shards.
*/
package events
