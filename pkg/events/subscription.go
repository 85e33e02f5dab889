package events

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/citypulse/pkg/types"
)

// DefaultQueueSize is the outbound queue capacity of each subscription
const DefaultQueueSize = 100

// TapChannel is the channel name reported by tap subscriptions
const TapChannel = "*"

// Message is one published record as seen by a subscriber
type Message struct {
	Channel     string
	Seq         uint64
	Record      types.Record
	PublishedAt time.Time
}

// Subscription binds one connection to one channel. Its queue is a fixed-size
// ring: when full, the oldest queued message is dropped to make room.
type Subscription struct {
	channel string
	connID  string

	mu      sync.Mutex
	ring    []Message
	head    int // next read position
	size    int
	dropped uint64
	closed  bool

	ready  chan struct{}
	wakeup chan<- struct{}
	done   chan struct{}
}

// SubscribeOption configures a new subscription
type SubscribeOption func(*Subscription)

// WithWakeup registers an extra channel signalled whenever a message is
// queued. A connection serving several subscriptions shares one wakeup
// channel between them so a single writer can drain them all.
func WithWakeup(ch chan<- struct{}) SubscribeOption {
	return func(s *Subscription) {
		s.wakeup = ch
	}
}

func newSubscription(channel, connID string, capacity int, opts ...SubscribeOption) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	s := &Subscription{
		channel: channel,
		connID:  connID,
		ring:    make([]Message, capacity),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Channel returns the subscribed channel name
func (s *Subscription) Channel() string { return s.channel }

// ConnID returns the owning connection id
func (s *Subscription) ConnID() string { return s.connID }

// Cap returns the queue capacity
func (s *Subscription) Cap() int { return len(s.ring) }

// Ready is signalled after a message is queued. Signals coalesce, so a
// receiver must drain with TryNext until it reports false.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Done is closed once the subscription is released
func (s *Subscription) Done() <-chan struct{} { return s.done }

// enqueue appends m, dropping the oldest message when the queue is full.
// It reports whether a message was dropped.
func (s *Subscription) enqueue(m Message) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	capacity := len(s.ring)
	if s.size == capacity {
		s.ring[s.head] = Message{}
		s.head = (s.head + 1) % capacity
		s.size--
		s.dropped++
		dropped = true
	}
	s.ring[(s.head+s.size)%capacity] = m
	s.size++
	s.mu.Unlock()

	notify(s.ready)
	if s.wakeup != nil {
		notify(s.wakeup)
	}
	return dropped
}

func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TryNext removes and returns the oldest queued message without blocking
func (s *Subscription) TryNext() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 {
		return Message{}, false
	}
	m := s.ring[s.head]
	s.ring[s.head] = Message{}
	s.head = (s.head + 1) % len(s.ring)
	s.size--
	return m, true
}

// Next blocks until a message is available, the subscription is released or
// ctx ends. Messages still queued when the subscription is released are
// returned before ErrSubscriptionClosed.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	for {
		if m, ok := s.TryNext(); ok {
			return m, nil
		}
		if s.isClosed() {
			return Message{}, ErrSubscriptionClosed
		}

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Drain removes up to max queued messages (all of them when max <= 0)
func (s *Subscription) Drain(max int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]Message, n)
	for i := range out {
		out[i] = s.ring[s.head]
		s.ring[s.head] = Message{}
		s.head = (s.head + 1) % len(s.ring)
	}
	s.size -= n
	return out
}

// Len returns the number of queued messages
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Dropped returns how many messages overflow has discarded
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Closed reports whether the subscription has been released
func (s *Subscription) Closed() bool {
	return s.isClosed()
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if s.wakeup != nil {
		notify(s.wakeup)
	}
}
