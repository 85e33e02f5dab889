package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrGatewayClosed is returned once Shutdown has started
var ErrGatewayClosed = errors.New("gateway closed")

// Config configures connection handling
type Config struct {
	// ReadLimit is the largest inbound frame accepted, in bytes
	ReadLimit    int64
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	// InboundRate and InboundBurst bound control frames per connection
	InboundRate  float64
	InboundBurst int
	// MaxSubscriptions bounds explicit plus implicit subscriptions per connection
	MaxSubscriptions int
	// AllowedOrigins lists accepted Origin headers; "*" accepts any. Requests
	// without an Origin header are always accepted.
	AllowedOrigins []string
}

// DefaultConfig returns the default connection settings
func DefaultConfig() Config {
	return Config{
		ReadLimit:        4096,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     54 * time.Second,
		InboundRate:      10,
		InboundBurst:     20,
		MaxSubscriptions: 64,
		AllowedOrigins:   []string{"*"},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.InboundRate <= 0 {
		c.InboundRate = def.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = def.InboundBurst
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = def.MaxSubscriptions
	}
}

// Gateway maps WebSocket connections onto broker subscriptions. It owns the
// table of live connections.
type Gateway struct {
	broker   *events.Broker
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// New creates a gateway on top of broker
func New(broker *events.Broker, cfg Config) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		broker: broker,
		cfg:    cfg,
		conns:  make(map[string]*Conn),
		logger: log.WithComponent("gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Scheme+"://"+u.Host {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and serves the connection until it closes.
// When channel is not empty the connection is subscribed to it on open.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	if channel != "" {
		if _, err := types.ParseChannel(channel); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		http.Error(w, ErrGatewayClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		g.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}

	c := g.newConn(ws)
	if !g.register(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	c.setState(StateOpen)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	c.logger.Info().Str("remote", r.RemoteAddr).Str("channel", channel).Msg("Connection opened")

	if channel != "" {
		if reply := c.subscribe(channel); reply.Type == ReplyError {
			c.logger.Warn().Str("code", reply.Code).Msg("Implicit subscribe failed")
			c.closeWith(websocket.CloseInternalServerErr, reply.Message)
			return
		}
	}

	go c.writeLoop()
	c.readLoop()
}

func (g *Gateway) newConn(ws *websocket.Conn) *Conn {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:      id,
		gw:      g,
		ws:      ws,
		ctx:     ctx,
		cancel:  cancel,
		wakeup:  make(chan struct{}, 1),
		replies: make(chan []byte, 16),
		subs:    make(map[string]*events.Subscription),
		limiter: rate.NewLimiter(rate.Limit(g.cfg.InboundRate), g.cfg.InboundBurst),
		logger:  log.WithConnID(id),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (g *Gateway) register(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	return true
}

func (g *Gateway) unregister(c *Conn) {
	g.mu.Lock()
	_, ok := g.conns[c.id]
	delete(g.conns, c.id)
	g.mu.Unlock()

	if ok {
		metrics.ConnectionsActive.Dec()
		g.wg.Done()
	}
}

// Connections returns the number of live connections
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Shutdown closes every connection with a going-away frame and waits for
// them to be released or ctx to end. New upgrades are refused.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	g.logger.Info().Int("connections", len(conns)).Msg("Shutting down gateway")
	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnInfo describes one live connection
type ConnInfo struct {
	ID       string   `json:"id"`
	State    string   `json:"state"`
	Channels []string `json:"channels"`
}

// List describes every live connection
func (g *Gateway) List() []ConnInfo {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnInfo{ID: c.id, State: c.State().String(), Channels: c.Channels()})
	}
	return out
}
