package analytics

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultHorizon bounds how far back sensor windows and active events reach
	DefaultHorizon = 60 * time.Minute
	// DefaultWindowCapacity is the number of samples kept per sensor
	DefaultWindowCapacity = 1024
	// DefaultAnomalyThreshold is the |z| at or above which a reading is flagged
	DefaultAnomalyThreshold = 3.0
	// DefaultMinStdDev replaces a zero leave-one-out deviation when the
	// window as a whole is not constant
	DefaultMinStdDev = 1e-9
	// DefaultMaxZScore bounds the reported |z|; a deviation against a
	// constant remainder would otherwise score around 1/MinStdDev
	DefaultMaxZScore = 1000.0

	windowShards     = 32
	recentTraffic    = 100
	recentWeather    = 10
	maxHistoryHours  = 168
	activeBucketSize = time.Minute
)

// AlertCounter reports persisted alert totals
type AlertCounter interface {
	AlertCounts() (total, unresolved int, err error)
}

// Config configures an Engine
type Config struct {
	Horizon          time.Duration
	WindowCapacity   int
	AnomalyThreshold float64
	MinStdDev        float64
	MaxZScore        float64
	// TotalSensors is the number of configured sensors reported by Overview
	TotalSensors int
	Alerts       AlertCounter
	// Now overrides the clock
	Now func() time.Time
}

// Engine maintains rolling statistics over the record stream
type Engine struct {
	cfg Config
	now func() time.Time

	shards [windowShards]*windowShard

	totalEvents atomic.Uint64
	byType      [5]atomic.Uint64
	bySeverity  [4]atomic.Uint64

	// readingsMu guards the running reading mean
	readingsMu  sync.Mutex
	readingSum  float64
	readingsNum uint64

	// eventsMu guards the time-bucketed event state below
	eventsMu sync.Mutex
	active   []minuteBucket
	hourly   map[types.EventType]map[int64]int
	firstHr  map[types.EventType]int64
	traffic  *eventRing
	weather  *eventRing

	logger zerolog.Logger
}

type windowShard struct {
	mu      sync.RWMutex
	windows map[string]*window
}

type minuteBucket struct {
	minute int64
	count  int
}

// NewEngine creates an analytics engine
func NewEngine(cfg Config) *Engine {
	if cfg.Horizon < time.Minute {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = DefaultWindowCapacity
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = DefaultAnomalyThreshold
	}
	if cfg.MinStdDev <= 0 {
		cfg.MinStdDev = DefaultMinStdDev
	}
	if cfg.MaxZScore <= 0 {
		cfg.MaxZScore = DefaultMaxZScore
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		cfg:    cfg,
		now:    now,
		logger: log.WithComponent("analytics"),
	}
	for i := range e.shards {
		e.shards[i] = &windowShard{windows: make(map[string]*window)}
	}
	e.resetEvents()
	return e
}

func (e *Engine) resetEvents() {
	e.active = make([]minuteBucket, int(e.cfg.Horizon/activeBucketSize))
	e.hourly = make(map[types.EventType]map[int64]int, len(types.EventTypes))
	e.firstHr = make(map[types.EventType]int64, len(types.EventTypes))
	e.traffic = newEventRing(recentTraffic)
	e.weather = newEventRing(recentWeather)
}

func (e *Engine) shardFor(sensorID string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sensorID))
	return e.shards[h.Sum32()%windowShards]
}

// Ingest folds one record into the statistics
func (e *Engine) Ingest(rec types.Record) {
	switch r := rec.(type) {
	case types.Event:
		e.ingestEvent(r)
		metrics.RecordsIngested.WithLabelValues("event").Inc()
	case types.SensorReading:
		e.ingestReading(r)
		metrics.RecordsIngested.WithLabelValues("reading").Inc()
	}
}

func (e *Engine) ingestEvent(ev types.Event) {
	e.totalEvents.Add(1)
	if i := ev.Type.Index(); i >= 0 {
		e.byType[i].Add(1)
	}
	if r := ev.Severity.Rank(); r >= 0 {
		e.bySeverity[r].Add(1)
	}

	at := ev.CreatedAt
	if at.IsZero() {
		at = e.now()
	}

	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	minute := floorDiv(at.Unix(), int64(activeBucketSize/time.Second))
	b := &e.active[floorMod(minute, int64(len(e.active)))]
	if b.count == 0 || b.minute < minute {
		b.minute = minute
		b.count = 0
	}
	if b.minute == minute {
		b.count++
	}

	hour := floorDiv(at.Unix(), 3600)
	counts, ok := e.hourly[ev.Type]
	if !ok {
		counts = make(map[int64]int)
		e.hourly[ev.Type] = counts
	}
	counts[hour]++
	if first, ok := e.firstHr[ev.Type]; !ok || hour < first {
		e.firstHr[ev.Type] = hour
	}
	for h := range counts {
		if h <= hour-maxHistoryHours {
			delete(counts, h)
		}
	}

	switch ev.Type {
	case types.EventTraffic:
		e.traffic.push(ev)
	case types.EventWeather:
		e.weather.push(ev)
	}
}

// floorDiv and floorMod round toward negative infinity so pre-epoch
// timestamps land in valid buckets
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return ((a % b) + b) % b
}

func (e *Engine) ingestReading(r types.SensorReading) {
	e.readingsMu.Lock()
	e.readingSum += r.Value
	e.readingsNum++
	e.readingsMu.Unlock()

	at := r.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	e.windowFor(r.SensorID, true).add(at, r.Value)
}

func (e *Engine) windowFor(sensorID string, create bool) *window {
	sh := e.shardFor(sensorID)
	sh.mu.RLock()
	w, ok := sh.windows[sensorID]
	sh.mu.RUnlock()
	if ok || !create {
		return w
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if w, ok = sh.windows[sensorID]; !ok {
		w = newWindow(e.cfg.WindowCapacity)
		sh.windows[sensorID] = w
		logger := log.WithSensorID(sensorID)
		logger.Debug().Str("component", "analytics").Msg("Tracking sensor")
	}
	return w
}

// Reset zeroes every counter and window
func (e *Engine) Reset() {
	e.totalEvents.Store(0)
	for i := range e.byType {
		e.byType[i].Store(0)
	}
	for i := range e.bySeverity {
		e.bySeverity[i].Store(0)
	}

	e.readingsMu.Lock()
	e.readingSum = 0
	e.readingsNum = 0
	e.readingsMu.Unlock()

	for _, sh := range e.shards {
		sh.mu.Lock()
		sh.windows = make(map[string]*window)
		sh.mu.Unlock()
	}

	e.eventsMu.Lock()
	e.resetEvents()
	e.eventsMu.Unlock()

	e.logger.Info().Msg("Analytics state reset")
}

// Run ingests records from sub until ctx ends or the subscription is released
func (e *Engine) Run(ctx context.Context, sub *events.Subscription) error {
	e.logger.Info().Str("tap", sub.ConnID()).Msg("Analytics consumer started")
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		e.Ingest(msg.Record)
	}
}

// SampleMetrics refreshes the analytics gauges
func (e *Engine) SampleMetrics() {
	metrics.ActiveSensors.Set(float64(e.activeSensors(e.now())))
}

// Overview is a point-in-time summary of the stream
type Overview struct {
	TotalEvents          uint64                  `json:"total_events"`
	ActiveEvents         int                     `json:"active_events"`
	TotalSensors         int                     `json:"total_sensors"`
	ActiveSensors        int                     `json:"active_sensors"`
	TotalAlerts          int                     `json:"total_alerts"`
	UnresolvedAlerts     int                     `json:"unresolved_alerts"`
	AvgSensorValue       float64                 `json:"avg_sensor_value"`
	EventDistribution    map[types.EventType]int `json:"event_distribution"`
	SeverityDistribution map[types.Severity]int  `json:"severity_distribution"`
	Timestamp            time.Time               `json:"timestamp"`
}

// Overview returns the current overview
func (e *Engine) Overview() Overview {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "overview")

	now := e.now()
	ov := Overview{
		TotalEvents:          e.totalEvents.Load(),
		EventDistribution:    make(map[types.EventType]int, len(types.EventTypes)),
		SeverityDistribution: make(map[types.Severity]int, len(types.Severities)),
		Timestamp:            now,
	}
	for _, t := range types.EventTypes {
		ov.EventDistribution[t] = int(e.byType[t.Index()].Load())
	}
	for _, s := range types.Severities {
		ov.SeverityDistribution[s] = int(e.bySeverity[s.Rank()].Load())
	}

	e.readingsMu.Lock()
	if e.readingsNum > 0 {
		ov.AvgSensorValue = e.readingSum / float64(e.readingsNum)
	}
	e.readingsMu.Unlock()

	ov.ActiveEvents = e.activeEvents(now)
	ov.ActiveSensors = e.activeSensors(now)
	ov.TotalSensors = e.cfg.TotalSensors
	if ov.TotalSensors == 0 {
		ov.TotalSensors = e.knownSensors()
	}

	if e.cfg.Alerts != nil {
		total, unresolved, err := e.cfg.Alerts.AlertCounts()
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to count alerts")
		} else {
			ov.TotalAlerts = total
			ov.UnresolvedAlerts = unresolved
		}
	}
	return ov
}

func (e *Engine) activeEvents(now time.Time) int {
	current := floorDiv(now.Unix(), int64(activeBucketSize/time.Second))
	oldest := current - int64(len(e.active)) + 1

	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	n := 0
	for _, b := range e.active {
		if b.count > 0 && b.minute >= oldest && b.minute <= current {
			n += b.count
		}
	}
	return n
}

func (e *Engine) activeSensors(now time.Time) int {
	cutoff := now.Add(-e.cfg.Horizon)
	n := 0
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, w := range sh.windows {
			if !w.lastSeen().Before(cutoff) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

func (e *Engine) knownSensors() int {
	n := 0
	for _, sh := range e.shards {
		sh.mu.RLock()
		n += len(sh.windows)
		sh.mu.RUnlock()
	}
	return n
}

// eventRing keeps the most recent events of one type, newest last
type eventRing struct {
	buf   []types.Event
	next  int
	count int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]types.Event, capacity)}
}

func (r *eventRing) push(ev types.Event) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// newestFirst returns a copy of the ring ordered from newest to oldest
func (r *eventRing) newestFirst() []types.Event {
	out := make([]types.Event, 0, r.count)
	for i := 1; i <= r.count; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}
