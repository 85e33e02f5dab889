package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/citypulse/pkg/events"
	"github.com/cuemby/citypulse/pkg/log"
	"github.com/cuemby/citypulse/pkg/metrics"
	"github.com/cuemby/citypulse/pkg/types"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix is prepended to every mirrored subject
const DefaultSubjectPrefix = "citypulse"

// Publisher is the subset of *nats.Conn used by the bridge
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config configures the NATS connection
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
	ReconnectWait time.Duration
	// MaxReconnects < 0 retries forever
	MaxReconnects int
	Timeout       time.Duration
}

// Bridge mirrors broker records to NATS subjects
type Bridge struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
	logger zerolog.Logger
}

// New creates a bridge publishing through pub
func New(pub Publisher, prefix string) *Bridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bridge{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: log.WithComponent("bridge"),
	}
}

// Connect dials NATS and returns a bridge using that connection. Connection
// loss is logged and the nats client keeps reconnecting in the background.
func Connect(cfg Config) (*Bridge, error) {
	logger := log.WithComponent("bridge")

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS async error")
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	name := cfg.Name
	if name == "" {
		name = "citypulse"
	}
	opts = append(opts, nats.Name(name))

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	b := New(nc, cfg.SubjectPrefix)
	b.conn = nc
	logger.Info().Str("url", nc.ConnectedUrl()).Str("prefix", b.prefix).Msg("Connected to NATS")
	return b, nil
}

// Subject maps a broker channel to a NATS subject:
//
//	events            → <prefix>.events
//	sensor:SENSOR_001 → <prefix>.sensor.SENSOR_001
func (b *Bridge) Subject(channel string) (string, error) {
	id, err := types.ParseChannel(channel)
	if err != nil {
		return "", err
	}
	if id == "" {
		return b.prefix + "." + types.ChannelEvents, nil
	}
	return b.prefix + ".sensor." + id, nil
}

// Forward publishes one broker message
func (b *Bridge) Forward(msg events.Message) error {
	subject, err := b.Subject(msg.Channel)
	if err != nil {
		return err
	}
	data, err := types.MarshalEnvelope(msg.Record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return b.pub.Publish(subject, data)
}

// Run mirrors tapped messages until ctx ends or the tap is released.
// Publish failures are logged and counted.
func (b *Bridge) Run(ctx context.Context, tap *events.Subscription) error {
	for {
		msg, err := tap.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if err := b.Forward(msg); err != nil {
			metrics.BridgePublished.WithLabelValues("error").Inc()
			b.logger.Debug().Err(err).Str("channel", msg.Channel).Msg("Failed to mirror record")
			continue
		}
		metrics.BridgePublished.WithLabelValues("ok").Inc()
	}
}

// Check reports an error while the NATS connection is down. A bridge built
// with New has no connection to check.
func (b *Bridge) Check(_ context.Context) error {
	if b.conn == nil {
		return nil
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats %s", strings.ToLower(b.conn.Status().String()))
	}
	return nil
}

// Close drains and closes the NATS connection opened by Connect
func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
