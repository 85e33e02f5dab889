package analytics

import (
	"sync"
	"time"
)

type sample struct {
	at    time.Time
	value float64
}

// window is a fixed-capacity ring of samples for one sensor. Samples older
// than the horizon are skipped on read and overwritten by later writes.
type window struct {
	mu    sync.Mutex
	buf   []sample
	next  int
	count int
	last  time.Time
}

func newWindow(capacity int) *window {
	return &window{buf: make([]sample, capacity)}
}

func (w *window) add(at time.Time, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf[w.next] = sample{at: at, value: value}
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
	if at.After(w.last) {
		w.last = at
	}
}

// since returns the samples with at >= cutoff, oldest first
func (w *window) since(cutoff time.Time) []sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]sample, 0, w.count)
	start := (w.next - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		s := w.buf[(start+i)%len(w.buf)]
		if !s.at.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// lastSeen returns the newest sample time
func (w *window) lastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
