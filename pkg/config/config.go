package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete CityPulse runtime configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Broker    BrokerConfig    `yaml:"broker"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Collector CollectorConfig `yaml:"collector"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Storage   StorageConfig   `yaml:"storage"`
	NATS      NATSConfig      `yaml:"nats"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// BrokerConfig configures the channel broker
type BrokerConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// GatewayConfig configures WebSocket connection handling
type GatewayConfig struct {
	ReadLimit      int64         `yaml:"read_limit"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	InboundRate    float64       `yaml:"inbound_rate"`
	InboundBurst   int           `yaml:"inbound_burst"`
	RecentSize     int           `yaml:"recent_size"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// CollectorConfig configures the synthetic data collector
type CollectorConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Seed             int64         `yaml:"seed"`
	TrafficInterval  time.Duration `yaml:"traffic_interval"`
	WeatherInterval  time.Duration `yaml:"weather_interval"`
	SocialInterval   time.Duration `yaml:"social_interval"`
	SensorInterval   time.Duration `yaml:"sensor_interval"`
	MaxEventsPerTick int           `yaml:"max_events_per_tick"`
	SensorCount      int           `yaml:"sensor_count"`
	CenterLatitude   float64       `yaml:"center_latitude"`
	CenterLongitude  float64       `yaml:"center_longitude"`
}

// AnalyticsConfig configures the analytics engine
type AnalyticsConfig struct {
	Horizon          time.Duration `yaml:"horizon"`
	WindowCapacity   int           `yaml:"window_capacity"`
	AnomalyThreshold float64       `yaml:"anomaly_threshold"`
}

// StorageConfig configures the bbolt store
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// ReadingRetention is how long sensor readings are kept; 0 keeps them forever
	ReadingRetention time.Duration `yaml:"reading_retention"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// NATSConfig configures the optional NATS mirror. The bridge is disabled
// while URL is empty.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Broker: BrokerConfig{
			QueueSize: 100,
		},
		Gateway: GatewayConfig{
			ReadLimit:    4096,
			WriteWait:    10 * time.Second,
			PongWait:     60 * time.Second,
			PingInterval: 54 * time.Second,
			InboundRate:  10,
			InboundBurst: 20,
			RecentSize:   100,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:8000",
			},
		},
		Collector: CollectorConfig{
			Enabled:          true,
			TrafficInterval:  3 * time.Second,
			WeatherInterval:  5 * time.Second,
			SocialInterval:   4 * time.Second,
			SensorInterval:   time.Second,
			MaxEventsPerTick: 1,
			SensorCount:      20,
			CenterLatitude:   40.7128,
			CenterLongitude:  -74.0060,
		},
		Analytics: AnalyticsConfig{
			Horizon:          60 * time.Minute,
			WindowCapacity:   1024,
			AnomalyThreshold: 3.0,
		},
		Storage: StorageConfig{
			Enabled:          true,
			Path:             "citypulse.db",
			ReadingRetention: 24 * time.Hour,
			SweepInterval:    10 * time.Minute,
		},
		NATS: NATSConfig{
			SubjectPrefix: "citypulse",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(c.Broker.QueueSize > 0, "broker.queue_size must be positive, got %d", c.Broker.QueueSize)

	check(c.Gateway.ReadLimit > 0, "gateway.read_limit must be positive")
	check(c.Gateway.PongWait > 0, "gateway.pong_wait must be positive")
	check(c.Gateway.PingInterval > 0 && c.Gateway.PingInterval < c.Gateway.PongWait,
		"gateway.ping_interval must be positive and shorter than pong_wait")
	check(c.Gateway.InboundRate > 0, "gateway.inbound_rate must be positive")
	check(c.Gateway.InboundBurst > 0, "gateway.inbound_burst must be positive")
	check(c.Gateway.RecentSize > 0, "gateway.recent_size must be positive")

	if c.Collector.Enabled {
		for name, d := range map[string]time.Duration{
			"traffic_interval": c.Collector.TrafficInterval,
			"weather_interval": c.Collector.WeatherInterval,
			"social_interval":  c.Collector.SocialInterval,
			"sensor_interval":  c.Collector.SensorInterval,
		} {
			check(d > 0, "collector.%s must be positive", name)
		}
		check(c.Collector.MaxEventsPerTick >= 0, "collector.max_events_per_tick must not be negative")
		check(c.Collector.SensorCount >= 0, "collector.sensor_count must not be negative")
		check(c.Collector.CenterLatitude >= -90 && c.Collector.CenterLatitude <= 90,
			"collector.center_latitude out of range")
		check(c.Collector.CenterLongitude >= -180 && c.Collector.CenterLongitude <= 180,
			"collector.center_longitude out of range")
	}

	check(c.Analytics.Horizon >= time.Minute, "analytics.horizon must be at least 1m")
	check(c.Analytics.WindowCapacity > 0, "analytics.window_capacity must be positive")
	check(c.Analytics.AnomalyThreshold > 0, "analytics.anomaly_threshold must be positive")

	check(!c.Storage.Enabled || c.Storage.Path != "", "storage.path is required when storage is enabled")
	check(c.Storage.ReadingRetention >= 0, "storage.reading_retention must not be negative")
	check(c.Storage.ReadingRetention == 0 || c.Storage.SweepInterval > 0,
		"storage.sweep_interval must be positive when retention is set")

	return errors.Join(errs...)
}

// TapCapacity is the queue size for firehose consumers that must see every
// record: twice the burst of one collector tick, and never below
// broker.queue_size
func (c *Config) TapCapacity() int {
	burst := 0
	if c.Collector.Enabled {
		// traffic, weather and social each emit up to MaxEventsPerTick
		burst = c.Collector.SensorCount + 3*max(c.Collector.MaxEventsPerTick, 1)
	}
	return max(c.Broker.QueueSize, 2*burst)
}
