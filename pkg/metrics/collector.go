package metrics

import (
	"sync"
	"time"
)

// DefaultCollectInterval is how often gauges are refreshed when no interval is given
const DefaultCollectInterval = 15 * time.Second

// Sampler refreshes one or more gauges from a component's current state
type Sampler func()

// Collector periodically runs samplers to keep point-in-time gauges current
type Collector struct {
	interval time.Duration
	samplers []Sampler
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, samplers ...Sampler) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		interval: interval,
		samplers: samplers,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect runs every sampler once
func (c *Collector) Collect() {
	for _, sample := range c.samplers {
		if sample != nil {
			sample()
		}
	}
}
