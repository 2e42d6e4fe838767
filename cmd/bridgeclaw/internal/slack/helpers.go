package slack

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal"
	"github.com/tinyland-inc/bridgeclaw/pkg/broker"
	"github.com/tinyland-inc/bridgeclaw/pkg/channels"
	"github.com/tinyland-inc/bridgeclaw/pkg/relay"
	"github.com/tinyland-inc/bridgeclaw/pkg/resolver"
)

// slackCmd runs the Slack bridge process: the native event loop publishes
// to slack_to_discord while the relay loop replays discord_to_slack.
func slackCmd(debug bool, configPath string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Slack.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := internal.NewLogger(cfg.Log.Level, debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := broker.Dial(ctx, broker.Config{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	}, log)
	if err != nil {
		return fmt.Errorf("error connecting to broker: %w", err)
	}
	defer b.Close()

	channel := channels.NewSlackChannel(cfg.Slack, b, log)
	if err := channel.Start(ctx); err != nil {
		return fmt.Errorf("error starting slack channel: %w", err)
	}

	sub := b.Subscribe(ctx, broker.TopicDiscordToSlack)
	defer sub.Close()

	rel := relay.New(sub, resolver.New(channel, log), channel, log)
	go rel.Run(ctx)

	fmt.Println("✓ Slack bridge started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	channel.Stop(context.Background())
	fmt.Println("✓ Slack bridge stopped")

	return nil
}
