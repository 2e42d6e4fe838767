package channels

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/bridgeclaw/pkg/broker"
	"github.com/tinyland-inc/bridgeclaw/pkg/envelope"
)

// Channel is one side of the bridge: it listens to its platform's native
// events, publishes envelopes for the other side, and delivers text sent
// the other way.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, channelID, text string) error
	IsRunning() bool
}

// BaseChannel carries the state and broker publishing shared by both
// platform channels.
type BaseChannel struct {
	name    string
	topic   string
	broker  *broker.Broker
	running atomic.Bool
	log     zerolog.Logger
}

func NewBaseChannel(name, topic string, b *broker.Broker, log zerolog.Logger) *BaseChannel {
	return &BaseChannel{
		name:   name,
		topic:  topic,
		broker: b,
		log:    log.With().Str("component", name).Logger(),
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// publishEnvelope encodes and publishes one envelope on this channel's
// outbound topic. Failures drop the message: publish is fire-and-forget and
// an unavailable broker must not disturb the native event loop. A zero
// receiver count means the other bridge process is not listening; that is a
// diagnostic signal, not an error.
func (c *BaseChannel) publishEnvelope(ctx context.Context, env envelope.Envelope) {
	data, err := envelope.Encode(env)
	if err != nil {
		c.log.Error().Err(err).Msg("Envelope encode failed, message dropped")
		return
	}

	receivers, err := c.broker.Publish(ctx, c.topic, data)
	if err != nil {
		c.log.Warn().Err(err).Str("topic", c.topic).Msg("Broker publish failed, message dropped")
		return
	}
	if receivers == 0 {
		c.log.Debug().Str("topic", c.topic).Msg("No subscribers on the other side")
		return
	}
	c.log.Debug().
		Str("topic", c.topic).
		Str("channel", env.Channel).
		Int64("receivers", receivers).
		Msg("Envelope published")
}
