package events

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/rs/zerolog"
)

const shardCount = 32

var (
	// ErrBrokerClosed is returned by operations on a closed broker
	ErrBrokerClosed = errors.New("broker closed")
	// ErrInvalidChannel is returned for malformed channel names
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrSubscriptionClosed is returned by Next once a subscription is released
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Publisher is the producer-side view of the broker
type Publisher interface {
	Publish(channel string, rec types.Record) error
}

// Broker fans records out to the subscribers of named channels. The channel
// table is split into shards; publishes to different channels only share a
// shard read lock, and each channel serializes its own deliveries.
type Broker struct {
	shards    [shardCount]*shard
	queueSize int

	tapsMu sync.RWMutex
	taps   map[string]*Subscription

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Bool

	logger zerolog.Logger
}

type shard struct {
	mu       sync.RWMutex
	channels map[string]*channel
	// orders publishes to channels that currently have no subscribers, so
	// taps still observe per-channel publish order
	orphanMu sync.Mutex
}

type channel struct {
	name string
	mu   sync.Mutex
	subs map[string]*Subscription
}

// Option configures a Broker
type Option func(*Broker)

// WithQueueSize sets the per-subscription queue capacity
func WithQueueSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBroker creates a new event broker
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		queueSize: DefaultQueueSize,
		taps:      make(map[string]*Subscription),
		logger:    log.WithComponent("broker"),
	}
	for i := range b.shards {
		b.shards[i] = &shard{channels: make(map[string]*channel)}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) shardFor(name string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return b.shards[h.Sum32()%shardCount]
}

func validateChannel(name string) error {
	if _, err := types.ParseChannel(name); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	return nil
}

// Publish delivers rec to every subscription attached to name at this moment
// and to every tap. It never blocks on a slow subscriber; a full queue drops
// its oldest message. Publishing to a channel without subscribers is not an
// error and the record is simply not retained.
func (b *Broker) Publish(name string, rec types.Record) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	if err := validateChannel(name); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("nil record")
	}

	sh := b.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	ch := sh.channels[name]
	order := &sh.orphanMu
	if ch != nil {
		order = &ch.mu
	}
	order.Lock()
	defer order.Unlock()

	msg := Message{
		Channel:     name,
		Seq:         b.seq.Add(1),
		Record:      rec,
		PublishedAt: time.Now(),
	}
	kind := metrics.ChannelKind(name)

	if ch != nil {
		for _, sub := range ch.subs {
			b.deliver(sub, msg, kind)
		}
	}

	b.tapsMu.RLock()
	for _, tap := range b.taps {
		b.deliver(tap, msg, kind)
	}
	b.tapsMu.RUnlock()

	b.published.Add(1)
	metrics.MessagesPublished.WithLabelValues(kind).Inc()
	return nil
}

// PublishRecord publishes rec on the channel it belongs to
func (b *Broker) PublishRecord(rec types.Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	return b.Publish(rec.Channel(), rec)
}

func (b *Broker) deliver(sub *Subscription, msg Message, kind string) {
	if sub.enqueue(msg) {
		b.dropped.Add(1)
		metrics.MessagesDropped.WithLabelValues(kind).Inc()
	}
}

// Subscribe attaches connID to the named channel, creating the channel on
// first use. Subscribing twice with the same pair returns the existing
// subscription and leaves options of the first call in effect.
func (b *Broker) Subscribe(name, connID string, opts ...SubscribeOption) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}
	if err := validateChannel(name); err != nil {
		return nil, err
	}
	if connID == "" {
		return nil, errors.New("connection id is required")
	}

	sh := b.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ch, ok := sh.channels[name]
	if !ok {
		ch = &channel{name: name, subs: make(map[string]*Subscription)}
		sh.channels[name] = ch
		logger := log.WithChannel(name)
		logger.Debug().Str("component", "broker").Msg("channel created")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if sub, exists := ch.subs[connID]; exists {
		return sub, nil
	}
	sub := newSubscription(name, connID, b.queueSize, opts...)
	ch.subs[connID] = sub
	return sub, nil
}

// Unsubscribe detaches connID from the named channel and releases its
// subscription. The channel is deallocated once its last subscriber leaves.
// It reports whether a subscription was removed.
func (b *Broker) Unsubscribe(name, connID string) bool {
	sh := b.shardFor(name)
	sh.mu.Lock()

	ch, ok := sh.channels[name]
	if !ok {
		sh.mu.Unlock()
		return false
	}

	ch.mu.Lock()
	sub, exists := ch.subs[connID]
	if exists {
		delete(ch.subs, connID)
	}
	if len(ch.subs) == 0 {
		delete(sh.channels, name)
		logger := log.WithChannel(name)
		logger.Debug().Str("component", "broker").Msg("channel released")
	}
	ch.mu.Unlock()
	sh.mu.Unlock()

	if exists {
		sub.close()
	}
	return exists
}

// Tap returns a subscription that receives every record published on any
// channel. Tapping an existing name returns the existing tap.
func (b *Broker) Tap(name string, opts ...SubscribeOption) (*Subscription, error) {
	return b.TapWithCapacity(name, b.queueSize, opts...)
}

// TapWithCapacity is Tap with a queue capacity other than the broker default,
// for consumers such as storage that batch slowly.
func (b *Broker) TapWithCapacity(name string, capacity int, opts ...SubscribeOption) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}
	if name == "" {
		return nil, errors.New("tap name is required")
	}

	b.tapsMu.Lock()
	defer b.tapsMu.Unlock()

	if tap, ok := b.taps[name]; ok {
		return tap, nil
	}
	tap := newSubscription(TapChannel, name, capacity, opts...)
	b.taps[name] = tap
	return tap, nil
}

// Untap releases a tap
func (b *Broker) Untap(name string) bool {
	b.tapsMu.Lock()
	tap, ok := b.taps[name]
	delete(b.taps, name)
	b.tapsMu.Unlock()

	if ok {
		tap.close()
	}
	return ok
}

// Close releases every subscription and tap. Later publishes and subscribes
// fail with ErrBrokerClosed.
func (b *Broker) Close() {
	if b.closed.Swap(true) {
		return
	}

	var released []*Subscription
	for _, sh := range b.shards {
		sh.mu.Lock()
		for name, ch := range sh.channels {
			ch.mu.Lock()
			for _, sub := range ch.subs {
				released = append(released, sub)
			}
			ch.mu.Unlock()
			delete(sh.channels, name)
		}
		sh.mu.Unlock()
	}

	b.tapsMu.Lock()
	for name, tap := range b.taps {
		released = append(released, tap)
		delete(b.taps, name)
	}
	b.tapsMu.Unlock()

	for _, sub := range released {
		sub.close()
	}
	b.logger.Info().Int("released", len(released)).Msg("broker closed")
}

// Closed reports whether Close has been called
func (b *Broker) Closed() bool {
	return b.closed.Load()
}

// Stats is a point-in-time view of broker state
type Stats struct {
	Channels      int    `json:"channels"`
	Subscriptions int    `json:"subscriptions"`
	Taps          int    `json:"taps"`
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped"`
}

// Stats returns current broker counters
func (b *Broker) Stats() Stats {
	var st Stats
	for _, sh := range b.shards {
		sh.mu.RLock()
		st.Channels += len(sh.channels)
		for _, ch := range sh.channels {
			ch.mu.Lock()
			st.Subscriptions += len(ch.subs)
			ch.mu.Unlock()
		}
		sh.mu.RUnlock()
	}

	b.tapsMu.RLock()
	st.Taps = len(b.taps)
	b.tapsMu.RUnlock()

	st.Published = b.published.Load()
	st.Dropped = b.dropped.Load()
	return st
}

// SubscriberCount returns the number of subscriptions attached to a channel
func (b *Broker) SubscriberCount(name string) int {
	sh := b.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	ch, ok := sh.channels[name]
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}

// SampleMetrics refreshes the broker gauges
func (b *Broker) SampleMetrics() {
	st := b.Stats()
	metrics.ChannelsActive.Set(float64(st.Channels))
	metrics.SubscriptionsActive.Set(float64(st.Subscriptions + st.Taps))
}
