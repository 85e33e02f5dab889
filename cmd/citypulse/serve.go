package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/citypulse/pkg/analytics"
	"github.com/cuemby/citypulse/pkg/api"
	"github.com/cuemby/citypulse/pkg/bridge"
	"github.com/cuemby/citypulse/pkg/collector"
	"github.com/cuemby/citypulse/pkg/config"
	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/gateway"
	"github.com/cuemby/citypulse/pkg/health"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/storage"
	"github.com/spf13/cobra"
)

// storageTapCapacity lets the recorder fall behind by a few seconds of
// traffic before it starts dropping
const storageTapCapacity = 4096

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CityPulse server",
	Long: `Run the collector, broker, analytics engine and HTTP/WebSocket server.

Configuration is read from --config when given; flags override file values.

Examples:
  # Run with defaults on :8000
  citypulse serve

  # Reproducible data, no persistence, mirrored to NATS
  citypulse serve --seed 42 --no-storage --nats-url nats://localhost:4222`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	serveCmd.Flags().String("addr", "", "HTTP listen address (default :8000)")
	serveCmd.Flags().Int64("seed", 0, "Collector random seed (0 seeds from the clock)")
	serveCmd.Flags().Int("sensors", 0, "Number of simulated sensors")
	serveCmd.Flags().Bool("no-collector", false, "Disable the simulated data collector")
	serveCmd.Flags().String("storage-path", "", "bbolt database file")
	serveCmd.Flags().Bool("no-storage", false, "Disable persistence")
	serveCmd.Flags().String("nats-url", "", "Mirror records to this NATS server")
}

// loadServeConfig reads the config file and applies changed flags
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("seed") {
		cfg.Collector.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("sensors") {
		cfg.Collector.SensorCount, _ = flags.GetInt("sensors")
	}
	if noCollector, _ := flags.GetBool("no-collector"); noCollector {
		cfg.Collector.Enabled = false
	}
	if flags.Changed("storage-path") {
		cfg.Storage.Path, _ = flags.GetString("storage-path")
	}
	if noStorage, _ := flags.GetBool("no-storage"); noStorage {
		cfg.Storage.Enabled = false
	}
	if flags.Changed("nats-url") {
		cfg.NATS.URL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("server")
	metrics.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// runCtx outlives the signal so background consumers drain after shutdown starts
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error().Err(err).Str("worker", name).Msg("Worker stopped")
			}
		}()
	}

	metrics.SetCriticalComponents(criticalComponents(cfg)...)
	broker := events.NewBroker(events.WithQueueSize(cfg.Broker.QueueSize))
	metrics.RegisterComponent("broker", true, "ok")

	monitor := health.NewMonitor(health.DefaultConfig())
	monitor.Add("broker", health.NewFuncChecker(func(context.Context) error {
		if broker.Closed() {
			return events.ErrBrokerClosed
		}
		return nil
	}))

	var store *storage.BoltStore
	if cfg.Storage.Enabled {
		store, err = storage.NewBoltStore(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		metrics.RegisterComponent("storage", true, "ok")
		monitor.Add("storage", health.NewFuncChecker(func(context.Context) error {
			_, _, err := store.AlertCounts()
			return err
		}))

		tap, err := broker.TapWithCapacity("storage", max(storageTapCapacity, cfg.TapCapacity()))
		if err != nil {
			return err
		}
		recorder := storage.NewRecorder(store)
		run("recorder", func() error { return recorder.Run(runCtx, tap) })
		retention := storage.NewRetention(store, cfg.Storage.ReadingRetention, cfg.Storage.SweepInterval)
		run("retention", func() error { return retention.Run(runCtx) })
		logger.Info().Str("path", cfg.Storage.Path).Msg("Persistence enabled")
	}

	engCfg := analytics.Config{
		Horizon:          cfg.Analytics.Horizon,
		WindowCapacity:   cfg.Analytics.WindowCapacity,
		AnomalyThreshold: cfg.Analytics.AnomalyThreshold,
		TotalSensors:     cfg.Collector.SensorCount,
	}
	if store != nil {
		engCfg.Alerts = store
	}
	engine := analytics.NewEngine(engCfg)
	analyticsTap, err := broker.TapWithCapacity("analytics", cfg.TapCapacity())
	if err != nil {
		return err
	}
	run("analytics", func() error { return engine.Run(runCtx, analyticsTap) })

	recent := gateway.NewRecent(cfg.Gateway.RecentSize)
	recentTap, err := broker.TapWithCapacity("recent", cfg.TapCapacity())
	if err != nil {
		return err
	}
	run("recent", func() error { return recent.Run(runCtx, recentTap) })

	if cfg.NATS.URL != "" {
		br, err := bridge.Connect(bridge.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			// the mirror is optional
			logger.Warn().Err(err).Msg("NATS bridge disabled")
		} else {
			defer br.Close()
			monitor.Add("nats", health.NewFuncChecker(br.Check))
			tap, err := broker.TapWithCapacity("nats", cfg.TapCapacity())
			if err != nil {
				return err
			}
			run("bridge", func() error { return br.Run(runCtx, tap) })
		}
	}

	gw := gateway.New(broker, gateway.Config{
		ReadLimit:      cfg.Gateway.ReadLimit,
		WriteWait:      cfg.Gateway.WriteWait,
		PongWait:       cfg.Gateway.PongWait,
		PingInterval:   cfg.Gateway.PingInterval,
		InboundRate:    cfg.Gateway.InboundRate,
		InboundBurst:   cfg.Gateway.InboundBurst,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	})
	metrics.RegisterComponent("gateway", true, "ok")

	var coll *collector.Collector
	if cfg.Collector.Enabled {
		coll = collector.NewCollector(collector.Config{
			Seed: cfg.Collector.Seed,
			Intervals: map[collector.Category]time.Duration{
				collector.CategoryTraffic: cfg.Collector.TrafficInterval,
				collector.CategoryWeather: cfg.Collector.WeatherInterval,
				collector.CategorySocial:  cfg.Collector.SocialInterval,
				collector.CategorySensors: cfg.Collector.SensorInterval,
			},
			MaxEventsPerTick: cfg.Collector.MaxEventsPerTick,
			SensorCount:      cfg.Collector.SensorCount,
			CenterLatitude:   cfg.Collector.CenterLatitude,
			CenterLongitude:  cfg.Collector.CenterLongitude,
		}, broker)
		coll.Start(runCtx)
		metrics.RegisterComponent("collector", true, "ok")
		logger.Info().Int("sensors", coll.SensorCount()).Msg("Collector started")
	} else {
		metrics.RegisterComponent("collector", true, "disabled")
	}

	sampler := metrics.NewCollector(15*time.Second, broker.SampleMetrics, engine.SampleMetrics)
	sampler.Start()
	defer sampler.Stop()

	monitor.Start(runCtx)
	defer monitor.Stop()

	server := api.NewServer(api.Config{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, api.Deps{
		Gateway:   gw,
		Recent:    recent,
		Engine:    engine,
		Store:     storeOrNil(store),
		Publisher: broker,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Str("version", Version).Msg("CityPulse is running")

	// Wait for interrupt signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error().Err(serveErr).Msg("HTTP server failed")
		}
	}

	// Shutdown: stop producing, close connections, then release consumers
	if coll != nil {
		coll.Stop()
		metrics.UpdateComponent("collector", false, "stopped")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown did not complete cleanly")
	}
	metrics.UpdateComponent("gateway", false, "stopped")

	broker.Close()
	cancelRun()
	wg.Wait()

	logger.Info().Msg("Shutdown complete")
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// criticalComponents lists what /ready waits for; persistence joins the
// defaults when it is enabled
func criticalComponents(cfg *config.Config) []string {
	critical := slices.Clone(metrics.DefaultCriticalComponents)
	if cfg.Storage.Enabled {
		critical = append(critical, "storage")
	}
	return critical
}

// storeOrNil keeps a nil *BoltStore from becoming a non-nil storage.Store
func storeOrNil(s *storage.BoltStore) storage.Store {
	if s == nil {
		return nil
	}
	return s
}
