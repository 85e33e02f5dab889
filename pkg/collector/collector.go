package collector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/rs/zerolog"
)

// Category is one independently scheduled producer
type Category string

const (
	CategoryTraffic Category = "traffic"
	CategoryWeather Category = "weather"
	CategorySocial  Category = "social"
	CategorySensors Category = "sensors"
)

// Categories lists every category in the order a tick runs them
var Categories = []Category{CategoryTraffic, CategoryWeather, CategorySocial, CategorySensors}

// DefaultResolution is how often Start checks for due categories
const DefaultResolution = 250 * time.Millisecond

// Config configures a Collector
type Config struct {
	// Seed initializes the generator; 0 seeds from the clock
	Seed int64
	// Intervals per category; missing entries use DefaultIntervals
	Intervals map[Category]time.Duration
	// MaxEventsPerTick bounds events produced by a due event category
	MaxEventsPerTick int
	SensorCount      int
	CenterLatitude   float64
	CenterLongitude  float64
	Resolution       time.Duration
}

// DefaultIntervals are the per-category production intervals
var DefaultIntervals = map[Category]time.Duration{
	CategoryTraffic: 3 * time.Second,
	CategoryWeather: 5 * time.Second,
	CategorySocial:  4 * time.Second,
	CategorySensors: time.Second,
}

// Sensor is one registered virtual sensor
type Sensor struct {
	ID        string           `json:"sensor_id"`
	Kind      types.SensorKind `json:"sensor_type"`
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
}

type generateFunc func(now time.Time) []types.Record

// Collector produces synthetic city records and publishes them to the broker
type Collector struct {
	cfg       Config
	publisher events.Publisher

	// mu guards the generator state: rng, sensors and lastRun
	mu         sync.Mutex
	rng        *rand.Rand
	sensors    []Sensor
	lastRun    map[Category]time.Time
	generators map[Category]generateFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// NewCollector creates a collector publishing to pub
func NewCollector(cfg Config, pub events.Publisher) *Collector {
	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultResolution
	}
	intervals := make(map[Category]time.Duration, len(Categories))
	for _, cat := range Categories {
		intervals[cat] = DefaultIntervals[cat]
		if d, ok := cfg.Intervals[cat]; ok && d > 0 {
			intervals[cat] = d
		}
	}
	cfg.Intervals = intervals
	if cfg.MaxEventsPerTick < 0 {
		cfg.MaxEventsPerTick = 0
	}
	if cfg.SensorCount < 0 {
		cfg.SensorCount = 0
	}

	c := &Collector{
		cfg:       cfg,
		publisher: pub,
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("collector"),
	}
	c.generators = map[Category]generateFunc{
		CategoryTraffic: c.trafficEvents,
		CategoryWeather: c.weatherEvents,
		CategorySocial:  c.socialEvents,
		CategorySensors: c.sensorReadings,
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c.Reseed(seed)
	return c
}

// Reseed resets the generator. Sensor placement, values and ids produced
// after Reseed depend only on seed and the tick times.
func (c *Collector) Reseed(seed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rng = rand.New(rand.NewSource(seed))
	c.lastRun = make(map[Category]time.Time, len(Categories))
	c.sensors = c.placeSensors()
}

// Sensors returns the registered virtual sensors
func (c *Collector) Sensors() []Sensor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Sensor, len(c.sensors))
	copy(out, c.sensors)
	return out
}

// SensorCount returns the number of registered sensors
func (c *Collector) SensorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sensors)
}

// Start begins the periodic worker. It runs until ctx ends or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
	c.logger.Info().
		Int("sensors", c.SensorCount()).
		Dur("resolution", c.cfg.Resolution).
		Msg("Collector started")
}

// Stop stops the worker and waits for the current tick to finish
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Resolution)
	defer ticker.Stop()

	c.Tick(time.Now())
	for {
		select {
		case now := <-ticker.C:
			c.Tick(now)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs every category whose interval has elapsed at now and returns the
// number of records published. A failing category is logged and counted and
// does not prevent the others from running.
func (c *Collector) Tick(now time.Time) int {
	published := 0
	for _, cat := range Categories {
		if !c.due(cat, now) {
			continue
		}

		records, err := c.generate(cat, now)
		if err != nil {
			metrics.CollectorFailures.WithLabelValues(string(cat)).Inc()
			c.logger.Error().Err(err).Str("category", string(cat)).Msg("Generation failed")
			continue
		}

		for _, rec := range records {
			if err := c.publisher.Publish(rec.Channel(), rec); err != nil {
				metrics.CollectorFailures.WithLabelValues(string(cat)).Inc()
				c.logger.Warn().Err(err).Str("category", string(cat)).Str("channel", rec.Channel()).Msg("Publish failed")
				continue
			}
			published++
		}
		metrics.RecordsGenerated.WithLabelValues(string(cat)).Add(float64(len(records)))
	}
	return published
}

func (c *Collector) due(cat Category, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastRun[cat]
	if ok && now.Sub(last) < c.cfg.Intervals[cat] {
		return false
	}
	c.lastRun[cat] = now
	return true
}

// generate runs one category under the generator lock, converting a panic
// into an error
func (c *Collector) generate(cat Category, now time.Time) (records []types.Record, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("%s generator panicked: %v", cat, r)
		}
	}()

	gen, ok := c.generators[cat]
	if !ok {
		return nil, fmt.Errorf("no generator for category %s", cat)
	}
	return gen(now), nil
}
