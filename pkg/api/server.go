package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/citypulse/pkg/analytics"
	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/gateway"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/storage"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config configures the HTTP listener
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// Deps are the components served over HTTP. Store may be nil when
// persistence is disabled; Publisher may be nil to refuse submitted events.
type Deps struct {
	Gateway   *gateway.Gateway
	Recent    *gateway.Recent
	Engine    *analytics.Engine
	Store     storage.Store
	Publisher events.Publisher
}

// Server serves the CityPulse HTTP surface
type Server struct {
	cfg     Config
	gateway *gateway.Gateway
	recent  *gateway.Recent
	engine  *analytics.Engine
	store   storage.Store
	pub     events.Publisher

	router chi.Router
	http   *http.Server
	now    func() time.Time
	logger zerolog.Logger
}

// NewServer builds the router
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		gateway: deps.Gateway,
		recent:  deps.Recent,
		engine:  deps.Engine,
		store:   deps.Store,
		pub:     deps.Publisher,
		now:     time.Now,
		logger:  log.WithComponent("api"),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.gateway.ServeWS(w, r, "")
	})
	r.Get("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		s.gateway.ServeWS(w, r, types.ChannelEvents)
	})
	r.Get("/ws/sensors/{sensorID}", func(w http.ResponseWriter, r *http.Request) {
		s.gateway.ServeWS(w, r, types.SensorChannel(chi.URLParam(r, "sensorID")))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stream/recent", s.handleRecent)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/overview", s.handleOverview)
			r.Get("/traffic", s.handleTraffic)
			r.Get("/weather", s.handleWeather)
			r.Get("/anomalies", s.handleAnomalies)
			r.Get("/predictions", s.handlePredictions)
		})

		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Get("/events/{eventID}", s.handleGetEvent)
		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts/{alertID}/resolve", s.handleResolveAlert)
	})

	return r
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket connections first, then stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.gateway != nil {
		if err := s.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
		}
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(errs...)
}
