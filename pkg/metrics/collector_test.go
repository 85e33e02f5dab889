package metrics

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorRunsSamplers(t *testing.T) {
	var calls atomic.Int32
	c := NewCollector(10*time.Millisecond, func() { calls.Add(1) }, nil)

	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCollectorStopIsIdempotent(t *testing.T) {
	c := NewCollector(0)
	assert.Equal(t, DefaultCollectInterval, c.interval)

	c.Start()
	c.Stop()
	c.Stop()
}
