// Package broker is the Redis pub/sub transport between the two bridge
// processes.
//
// Publish is fire-and-forget and subscribe is a best-effort listen: there is
// no acknowledgment, no replay of missed messages, and no persistence. A
// message published while the other process is down is lost. That loss is an
// accepted trade-off of running without a persistence layer.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// The two fixed topics. Each carries encoded envelopes in one direction.
const (
	TopicSlackToDiscord = "slack_to_discord"
	TopicDiscordToSlack = "discord_to_slack"
)

const (
	// receiveIdleInterval bounds how long a Receive poll blocks before
	// re-checking the context. Keeps the loop responsive without
	// busy-spinning.
	receiveIdleInterval = time.Second
	// receiveRetryBackoff is the pause after a failed receive while
	// go-redis re-establishes the connection underneath.
	receiveRetryBackoff = time.Second
)

// Config holds broker connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Broker wraps a Redis client for topic publish and subscribe.
type Broker struct {
	client *redis.Client
	log    zerolog.Logger
}

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return &Broker{
		client: client,
		log:    log.With().Str("component", "broker").Logger(),
	}, nil
}

// Publish sends a payload to a topic and returns the number of subscribers
// that received it. Zero receivers is not an error, only a diagnostic
// signal: the other bridge process may simply not be running.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) (int64, error) {
	receivers, err := b.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %q: %w", topic, err)
	}
	return receivers, nil
}

// Subscribe opens a subscription on a topic. The caller owns the returned
// Subscription and must Close it.
func (b *Broker) Subscribe(ctx context.Context, topic string) *Subscription {
	return &Subscription{
		pubsub: b.client.Subscribe(ctx, topic),
		topic:  topic,
		log:    b.log,
	}
}

// Close releases the underlying Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Subscription is a single-topic broker subscription.
type Subscription struct {
	pubsub *redis.PubSub
	topic  string
	log    zerolog.Logger
}

// Receive blocks until the next payload arrives or ctx is done. It polls
// with a bounded idle interval, skips subscription confirmations, and
// retries transient broker failures with a short backoff (go-redis
// reconnects the underlying connection); it never returns an error for a
// lost connection, only for context cancellation.
func (s *Subscription) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := s.pubsub.ReceiveTimeout(ctx, receiveIdleInterval)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn().Err(err).Str("topic", s.topic).Msg("Broker receive failed, retrying")
			select {
			case <-time.After(receiveRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			return []byte(m.Payload), nil
		case *redis.Subscription:
			s.log.Debug().Str("topic", m.Channel).Str("kind", m.Kind).Msg("Subscription state changed")
		case *redis.Pong:
			// Keepalive, nothing to do.
		}
	}
}

// Close unsubscribes and releases the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
