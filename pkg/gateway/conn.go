package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// drainBatch bounds messages written from one subscription per writer pass
const drainBatch = 64

// Conn is one WebSocket connection. The reader goroutine handles control
// frames; the writer goroutine is the only one writing data frames.
type Conn struct {
	id  string
	gw  *Gateway
	ws  *websocket.Conn
	ctx context.Context

	cancel context.CancelFunc
	state  atomic.Int32

	// wakeup is shared by every subscription of the connection
	wakeup  chan struct{}
	replies chan []byte

	subsMu sync.Mutex
	subs   map[string]*events.Subscription

	limiter   *rate.Limiter
	closeOnce sync.Once
	logger    zerolog.Logger
}

// ID returns the connection id
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// Channels returns the subscribed channel names, sorted
func (c *Conn) Channels() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	out := make([]string, 0, len(c.subs))
	for name := range c.subs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) alive() bool {
	return c.ctx.Err() == nil
}

func (c *Conn) subscribe(channel string) Reply {
	if _, err := types.ParseChannel(channel); err != nil {
		return errorReply(CodeInvalidChannel, err.Error())
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if !c.alive() {
		return errorReply(CodeUnavailable, "connection closing")
	}
	if _, ok := c.subs[channel]; ok {
		return ackReply(ActionSubscribe, channel)
	}
	if len(c.subs) >= c.gw.cfg.MaxSubscriptions {
		return errorReply(CodeTooManySubscriptions, "subscription limit reached")
	}

	sub, err := c.gw.broker.Subscribe(channel, c.id, events.WithWakeup(c.wakeup))
	if err != nil {
		if errors.Is(err, events.ErrInvalidChannel) {
			return errorReply(CodeInvalidChannel, err.Error())
		}
		return errorReply(CodeUnavailable, err.Error())
	}
	c.subs[channel] = sub
	c.setState(StateSubscribed)
	c.logger.Debug().Str("channel", channel).Msg("Subscribed")
	return ackReply(ActionSubscribe, channel)
}

func (c *Conn) unsubscribe(channel string) Reply {
	if _, err := types.ParseChannel(channel); err != nil {
		return errorReply(CodeInvalidChannel, err.Error())
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if _, ok := c.subs[channel]; ok {
		c.gw.broker.Unsubscribe(channel, c.id)
		delete(c.subs, channel)
		c.logger.Debug().Str("channel", channel).Msg("Unsubscribed")
	}
	if len(c.subs) == 0 && c.alive() {
		c.setState(StateOpen)
	}
	return ackReply(ActionUnsubscribe, channel)
}

// readLoop runs on the handler goroutine until the connection ends
func (c *Conn) readLoop() {
	c.ws.SetReadLimit(c.gw.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait))

		if msgType != websocket.TextMessage {
			metrics.FramesRejected.WithLabelValues("binary").Inc()
			c.closeWith(websocket.CloseUnsupportedData, "binary frames are not supported")
			return
		}
		if !utf8.Valid(data) {
			metrics.FramesRejected.WithLabelValues("invalid_utf8").Inc()
			c.closeWith(websocket.CloseInvalidFramePayloadData, "invalid UTF-8")
			return
		}

		reply := c.handleFrame(data)
		if !c.enqueueReply(reply) {
			return
		}
	}
}

func (c *Conn) handleReadError(err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		c.logger.Debug().Int("code", closeErr.Code).Msg("Peer closed connection")
		c.closeWith(websocket.CloseNormalClosure, "")
	case errors.Is(err, websocket.ErrReadLimit):
		metrics.FramesRejected.WithLabelValues("too_large").Inc()
		c.closeWith(websocket.CloseMessageTooBig, "frame exceeds read limit")
	case !c.alive():
		// closed locally; the read was unblocked by the socket close
	case isTimeout(err):
		// the peer stopped answering pings; a close frame would only wait on it
		c.logger.Debug().Err(err).Msg("Peer timed out")
		c.closeWith(websocket.CloseAbnormalClosure, "")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug().Err(err).Msg("Peer went away")
		c.closeWith(websocket.CloseAbnormalClosure, "")
	default:
		c.logger.Debug().Err(err).Msg("Read failed")
		c.closeWith(websocket.CloseProtocolError, "read error")
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Conn) handleFrame(data []byte) Reply {
	if !c.limiter.Allow() {
		metrics.FramesRejected.WithLabelValues("rate_limited").Inc()
		return errorReply(CodeRateLimited, "too many frames")
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.FramesRejected.WithLabelValues("invalid_json").Inc()
		return errorReply(CodeInvalidJSON, "frame is not valid JSON")
	}

	switch f.Action {
	case ActionSubscribe:
		return c.subscribe(f.Channel)
	case ActionUnsubscribe:
		return c.unsubscribe(f.Channel)
	case ActionPing:
		return Reply{Type: ReplyPong}
	default:
		metrics.FramesRejected.WithLabelValues("unknown_action").Inc()
		return errorReply(CodeUnknownAction, "unknown action "+quote(f.Action))
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (c *Conn) enqueueReply(r Reply) bool {
	select {
	case c.replies <- r.encode():
		return true
	case <-c.ctx.Done():
		return false
	}
}

// writeLoop is the single writer of the connection
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case reply := <-c.replies:
			if err := c.write(websocket.TextMessage, reply); err != nil {
				c.writeFailed(err)
				return
			}
		case <-c.wakeup:
			if err := c.flush(); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ticker.C:
			if !c.alive() {
				return
			}
			deadline := time.Now().Add(c.gw.cfg.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.writeFailed(err)
				return
			}
		}
	}
}

// flush writes queued messages of every subscription, at most drainBatch
// per subscription before yielding to control replies
func (c *Conn) flush() error {
	c.subsMu.Lock()
	subs := make([]*events.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.Unlock()

	more := false
	for _, sub := range subs {
		for _, msg := range sub.Drain(drainBatch) {
			if err := c.deliver(msg); err != nil {
				return err
			}
		}
		if sub.Len() > 0 {
			more = true
		}
	}
	if more {
		select {
		case c.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *Conn) deliver(msg events.Message) error {
	if !c.alive() {
		return context.Canceled
	}
	payload, err := types.MarshalEnvelope(msg.Record)
	if err != nil {
		c.logger.Error().Err(err).Str("channel", msg.Channel).Msg("Failed to encode envelope")
		return nil
	}

	timer := metrics.NewTimer()
	if err := c.write(websocket.TextMessage, payload); err != nil {
		return err
	}
	timer.ObserveDuration(metrics.DeliveryDuration)
	metrics.FramesSent.Inc()
	return nil
}

func (c *Conn) write(msgType int, payload []byte) error {
	if !c.alive() {
		return context.Canceled
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteWait))
	return c.ws.WriteMessage(msgType, payload)
}

func (c *Conn) writeFailed(err error) {
	if c.alive() {
		c.logger.Debug().Err(err).Msg("Write failed")
	}
	c.closeWith(websocket.CloseAbnormalClosure, "")
}

// Close closes the connection normally
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

// closeWith moves the connection to Closing, sends a close frame with code
// when the code may be sent on the wire, closes the socket, releases every
// subscription and removes the connection from the gateway table. Only the
// first call has any effect.
func (c *Conn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		c.cancel()

		if code != websocket.CloseAbnormalClosure && code != websocket.CloseNoStatusReceived {
			msg := websocket.FormatCloseMessage(code, text)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.gw.cfg.WriteWait))
		}
		_ = c.ws.Close()

		c.subsMu.Lock()
		for name := range c.subs {
			c.gw.broker.Unsubscribe(name, c.id)
		}
		c.subs = make(map[string]*events.Subscription)
		c.subsMu.Unlock()

		c.gw.unregister(c)
		c.setState(StateClosed)
		c.logger.Info().Int("code", code).Msg("Connection closed")
	})
}
