package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/types"
)

const (
	// DefaultRecentLimit is the number of entries returned when no limit is given
	DefaultRecentLimit = 20
	// MaxRecentLimit caps the number of entries returned by one query
	MaxRecentLimit = 100
)

// RecentEntry is one cached envelope with its broker sequence number
type RecentEntry struct {
	Seq     uint64       `json:"seq"`
	Channel string       `json:"channel"`
	Data    types.Record `json:"data"`
}

// Recent caches the latest messages of every channel for clients that poll
// instead of holding a WebSocket open
type Recent struct {
	size int

	mu       sync.RWMutex
	channels map[string]*recentRing
}

type recentRing struct {
	buf   []RecentEntry
	next  int
	count int
}

// NewRecent creates a cache keeping size entries per channel
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = MaxRecentLimit
	}
	return &Recent{
		size:     size,
		channels: make(map[string]*recentRing),
	}
}

// Add records one broker message
func (r *Recent) Add(msg events.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring, ok := r.channels[msg.Channel]
	if !ok {
		ring = &recentRing{buf: make([]RecentEntry, r.size)}
		r.channels[msg.Channel] = ring
	}
	ring.buf[ring.next] = RecentEntry{Seq: msg.Seq, Channel: msg.Channel, Data: msg.Record}
	ring.next = (ring.next + 1) % len(ring.buf)
	if ring.count < len(ring.buf) {
		ring.count++
	}
}

// Query returns up to limit of the newest entries of channel with a sequence
// number above after, oldest first. limit is clamped to [1, MaxRecentLimit];
// 0 selects DefaultRecentLimit.
func (r *Recent) Query(channel string, limit int, after uint64) []RecentEntry {
	switch {
	case limit == 0:
		limit = DefaultRecentLimit
	case limit < 1:
		limit = 1
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ring, ok := r.channels[channel]
	if !ok {
		return []RecentEntry{}
	}

	// walk newest to oldest, then reverse
	out := make([]RecentEntry, 0, limit)
	for i := 1; i <= ring.count && len(out) < limit; i++ {
		e := ring.buf[(ring.next-i+len(ring.buf))%len(ring.buf)]
		if e.Seq <= after {
			break
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Run fills the cache from a broker tap until ctx ends or the tap is released
func (r *Recent) Run(ctx context.Context, tap *events.Subscription) error {
	for {
		msg, err := tap.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		r.Add(msg)
	}
}
