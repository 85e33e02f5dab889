package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/rs/zerolog"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeFunc CheckType = "func"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health status of a component
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	// Healthy flips to false only after Retries consecutive failures
	Healthy bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

type monitored struct {
	checker Checker
	status  *Status
}

// Monitor runs checks periodically and publishes their status to the
// component registry served on /health and /ready
type Monitor struct {
	cfg Config

	mu     sync.Mutex
	checks map[string]*monitored

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewMonitor creates a monitor
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	return &Monitor{
		cfg:    cfg,
		checks: make(map[string]*monitored),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("health"),
	}
}

// Add registers a check under a component name, replacing any previous one
func (m *Monitor) Add(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = &monitored{checker: c, status: NewStatus()}
}

// RunOnce runs every check once and publishes the results
func (m *Monitor) RunOnce(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		m.mu.Lock()
		entry, ok := m.checks[name]
		m.mu.Unlock()
		if !ok {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		result := entry.checker.Check(cctx)
		cancel()

		m.mu.Lock()
		wasHealthy := entry.status.Healthy
		entry.status.Update(result, m.cfg)
		healthy := entry.status.Healthy
		m.mu.Unlock()

		if wasHealthy != healthy {
			m.logger.Warn().Str("component", name).Bool("healthy", healthy).Str("message", result.Message).Msg("Component health changed")
		}
		metrics.UpdateComponent(name, healthy, result.Message)
	}
}

// Status returns a copy of a component's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.checks[name]
	if !ok {
		return Status{}, false
	}
	return *entry.status, true
}

// Start runs checks every Interval until ctx ends or Stop is called
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops the monitor and waits for the running check to finish
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
