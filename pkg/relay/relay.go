// Package relay replays envelopes received from the broker into the local
// platform.
package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/bridgeclaw/pkg/envelope"
	"github.com/tinyland-inc/bridgeclaw/pkg/resolver"
	"github.com/tinyland-inc/bridgeclaw/pkg/slug"
)

// Source yields raw broker payloads. Receive blocks until a payload arrives
// and returns an error only when the context is cancelled.
type Source interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Sender delivers text into a platform-native channel.
type Sender interface {
	SendText(ctx context.Context, channelID, text string) error
}

// Relay consumes the topic carrying the other platform's messages and
// delivers them locally.
type Relay struct {
	source   Source
	resolver *resolver.Resolver
	sender   Sender
	log      zerolog.Logger
}

// New creates a Relay.
func New(source Source, res *resolver.Resolver, sender Sender, log zerolog.Logger) *Relay {
	return &Relay{
		source:   source,
		resolver: res,
		sender:   sender,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// Run processes payloads until ctx is cancelled. Every failure is contained
// within one message: a bad payload, an unresolvable channel, or a failed
// send is logged and dropped, and the loop continues. There is no retry and
// no dead-letter queue; an undelivered message is gone.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info().Msg("Relay loop started")
	for {
		payload, err := r.source.Receive(ctx)
		if err != nil {
			r.log.Info().Msg("Relay loop stopped")
			return
		}
		r.Deliver(ctx, payload)
	}
}

// Deliver processes a single broker payload: decode, normalize the channel
// name, resolve the destination, send.
func (r *Relay) Deliver(ctx context.Context, payload []byte) {
	log := r.log.With().Str("delivery_id", uuid.NewString()).Logger()

	env, err := envelope.Decode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable payload")
		return
	}
	log = log.With().
		Str("platform", string(env.Platform)).
		Str("channel", env.Channel).
		Logger()

	target := slug.Normalize(env.Channel)
	ch, err := r.resolver.Resolve(ctx, target)
	if err != nil {
		log.Warn().Err(err).Str("slug", target).Msg("Dropping message, no destination channel")
		return
	}

	if err := r.sender.SendText(ctx, ch.ID, FormatText(env)); err != nil {
		log.Warn().Err(err).Str("channel_id", ch.ID).Msg("Delivery failed, message dropped")
		return
	}
	log.Debug().Str("channel_id", ch.ID).Msg("Message relayed")
}

// FormatText renders an envelope for delivery on the destination platform.
func FormatText(env envelope.Envelope) string {
	username := env.Username
	if username == "" {
		username = envelope.UnknownUsername
	}
	return fmt.Sprintf("%s: %s", username, env.Text)
}
