package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseDelay is multiplied by the attempt number between reconnects
	DefaultBaseDelay = time.Second
	// DefaultMaxAttempts bounds consecutive reconnect attempts
	DefaultMaxAttempts = 5
)

var (
	// ErrMaxAttemptsExceeded is returned by Run after the last reconnect attempt fails
	ErrMaxAttemptsExceeded = errors.New("maximum reconnect attempts exceeded")
	// ErrNotConnected is returned when a frame cannot be sent right now
	ErrNotConnected = errors.New("not connected")
)

// State is the connection state seen by observers
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn used by the Reconnector
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial opens a WebSocket connection
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Reply is a control reply from the server
type Reply struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Channel string `json:"channel,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Config configures a Reconnector
type Config struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      Dialer
	// OnMessage receives every data envelope
	OnMessage func(types.DecodedEnvelope)
	// OnReply receives every control reply
	OnReply func(Reply)
}

// Reconnector keeps a WebSocket stream open. After an unexpected close it
// redials the same URL, waiting BaseDelay × attempt before each attempt, and
// re-sends every explicit subscription once connected. After MaxAttempts
// consecutive failures it stops in StateDisconnected.
type Reconnector struct {
	cfg Config

	mu        sync.Mutex
	state     State
	conn      Conn
	subs      []string
	observers map[int]func(State)
	nextObs   int
	closed    bool

	// writeMu serializes frame writes on conn
	writeMu sync.Mutex

	wait   func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger
}

// New creates a Reconnector
func New(cfg Config) *Reconnector {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	return &Reconnector{
		cfg:       cfg,
		observers: make(map[int]func(State)),
		wait:      sleep,
		logger:    log.WithComponent("reconnector"),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddObserver registers fn for state changes. The returned func removes it.
func (r *Reconnector) AddObserver(fn func(State)) (remove func()) {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// State returns the current state
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconnector) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	observers := make([]func(State), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

// Subscribe records channel as an explicit subscription and sends the
// subscribe frame when connected. Recorded subscriptions are re-sent after
// every reconnect.
func (r *Reconnector) Subscribe(channel string) error {
	if _, err := types.ParseChannel(channel); err != nil {
		return err
	}

	r.mu.Lock()
	known := false
	for _, s := range r.subs {
		if s == channel {
			known = true
			break
		}
	}
	if !known {
		r.subs = append(r.subs, channel)
	}
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return r.sendFrame(conn, "subscribe", channel)
}

// Unsubscribe forgets an explicit subscription and sends the unsubscribe
// frame when connected
func (r *Reconnector) Unsubscribe(channel string) error {
	r.mu.Lock()
	for i, s := range r.subs {
		if s == channel {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			break
		}
	}
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return r.sendFrame(conn, "unsubscribe", channel)
}

// Subscriptions returns the recorded explicit subscriptions
func (r *Reconnector) Subscriptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *Reconnector) sendFrame(conn Conn, action, channel string) error {
	b, err := json.Marshal(struct {
		Action  string `json:"action"`
		Channel string `json:"channel"`
	}{action, channel})
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", action, err)
	}
	return nil
}

// Run connects and reads until ctx ends, Close is called, or reconnecting
// gives up. A failed initial dial is returned as is; it does not count as a
// reconnect attempt.
func (r *Reconnector) Run(ctx context.Context) error {
	// unblock the reader when ctx ends
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	defer stop()

	r.setState(StateConnecting)
	conn, err := r.cfg.Dialer.Dial(ctx, r.cfg.URL)
	if err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to %s: %w", r.cfg.URL, err)
	}
	if err := r.attach(ctx, conn); err != nil {
		r.setState(StateDisconnected)
		return err
	}

	for {
		readErr := r.readLoop(conn)
		r.detach(conn)

		if ctx.Err() != nil || r.isClosed() {
			r.setState(StateDisconnected)
			return nil
		}
		r.logger.Warn().Err(readErr).Str("url", r.cfg.URL).Msg("Connection lost")

		conn, err = r.reconnect(ctx)
		if err != nil {
			r.setState(StateDisconnected)
			if errors.Is(err, ErrMaxAttemptsExceeded) {
				r.logger.Error().Int("attempts", r.cfg.MaxAttempts).Msg("Giving up reconnecting")
				return err
			}
			return nil
		}
	}
}

func (r *Reconnector) reconnect(ctx context.Context) (Conn, error) {
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.setState(StateConnecting)
		delay := r.cfg.BaseDelay * time.Duration(attempt)
		if err := r.wait(ctx, delay); err != nil {
			return nil, err
		}
		if r.isClosed() {
			return nil, context.Canceled
		}

		conn, err := r.cfg.Dialer.Dial(ctx, r.cfg.URL)
		if err != nil {
			r.logger.Debug().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
			continue
		}
		if err := r.attach(ctx, conn); err != nil {
			r.logger.Debug().Err(err).Int("attempt", attempt).Msg("Resubscribe failed")
			_ = conn.Close()
			r.detach(conn)
			continue
		}
		r.logger.Info().Int("attempt", attempt).Msg("Reconnected")
		return conn, nil
	}
	return nil, ErrMaxAttemptsExceeded
}

// attach makes conn current and re-sends recorded subscriptions
func (r *Reconnector) attach(ctx context.Context, conn Conn) error {
	r.mu.Lock()
	if r.closed || ctx.Err() != nil {
		r.mu.Unlock()
		_ = conn.Close()
		return context.Canceled
	}
	r.conn = conn
	subs := make([]string, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, ch := range subs {
		if err := r.sendFrame(conn, "subscribe", ch); err != nil {
			return err
		}
	}
	r.setState(StateConnected)
	return nil
}

func (r *Reconnector) detach(conn Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
}

func (r *Reconnector) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		r.dispatch(data)
	}
}

func (r *Reconnector) dispatch(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		r.logger.Debug().Err(err).Msg("Ignoring undecodable frame")
		return
	}

	if head.Type != "" {
		if r.cfg.OnReply != nil {
			var reply Reply
			if err := json.Unmarshal(data, &reply); err == nil {
				r.cfg.OnReply(reply)
			}
		}
		return
	}

	env, err := types.UnmarshalEnvelope(data)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Ignoring unknown envelope")
		return
	}
	if r.cfg.OnMessage != nil {
		r.cfg.OnMessage(env)
	}
}

func (r *Reconnector) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops Run without reconnecting
func (r *Reconnector) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
