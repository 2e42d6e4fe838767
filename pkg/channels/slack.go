package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/bridgeclaw/pkg/broker"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/envelope"
	"github.com/tinyland-inc/bridgeclaw/pkg/resolver"
)

// bridgeUsername is the sender name shown on messages the bridge posts into
// Slack.
const bridgeUsername = "Discord Bridge"

// SlackChannel connects to Slack over socket mode, publishes accepted
// message events as envelopes, and implements resolver.Directory and
// relay.Sender for the Discord-to-Slack direction.
type SlackChannel struct {
	*BaseChannel
	cfg       config.SlackConfig
	api       *slack.Client
	sock      *socketmode.Client
	botUserID string
}

func NewSlackChannel(cfg config.SlackConfig, b *broker.Broker, log zerolog.Logger) *SlackChannel {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", broker.TopicSlackToDiscord, b, log),
		cfg:         cfg,
		api:         api,
		sock:        socketmode.New(api),
	}
}

// Start verifies credentials, optionally joins all public channels, and
// launches the socket mode connection plus the event loop.
func (c *SlackChannel) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = auth.UserID
	c.log.Info().Str("bot_user_id", auth.UserID).Str("team", auth.Team).Msg("Slack authenticated")

	if c.cfg.AutoJoin {
		c.autoJoinChannels(ctx)
	}

	go func() {
		if err := c.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Msg("Socket mode connection ended")
		}
	}()
	go c.eventLoop(ctx)

	c.setRunning(true)
	return nil
}

// Stop marks the channel stopped. The socket mode connection shuts down
// with the context passed to Start.
func (c *SlackChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, evt)
		}
	}
}

func (c *SlackChannel) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		c.log.Debug().Msg("Connecting to Slack")
	case socketmode.EventTypeConnected:
		c.log.Info().Msg("Connected to Slack")
	case socketmode.EventTypeConnectionError:
		c.log.Warn().Msg("Slack connection error, socket mode will retry")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.sock.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			c.handleMessage(ctx, ev)
		}
	}
}

func (c *SlackChannel) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if !shouldRelaySlackMessage(ev, c.botUserID) {
		c.log.Debug().
			Str("subtype", ev.SubType).
			Str("bot_id", ev.BotID).
			Str("channel_type", ev.ChannelType).
			Msg("Event filtered")
		return
	}

	c.publishEnvelope(ctx, envelope.Envelope{
		Platform:  envelope.PlatformSlack,
		Username:  c.userName(ctx, ev.User),
		Text:      ev.Text,
		Channel:   c.channelName(ctx, ev.Channel),
		UserID:    ev.User,
		ChannelID: ev.Channel,
		Timestamp: ev.TimeStamp,
	})
}

// shouldRelaySlackMessage decides whether a message event crosses the
// bridge. System subtypes, bot-authored messages (including the bridge's
// own posts), and direct messages stay on Slack.
func shouldRelaySlackMessage(ev *slackevents.MessageEvent, botUserID string) bool {
	if ev == nil {
		return false
	}
	if ev.SubType != "" {
		return false
	}
	if ev.BotID != "" {
		return false
	}
	if botUserID != "" && ev.User == botUserID {
		return false
	}
	if ev.Channel == "" {
		return false
	}
	if ev.ChannelType == "im" || ev.ChannelType == "mpim" {
		return false
	}
	return true
}

// channelName looks up the display name for a channel ID, defaulting to the
// fallback channel name when the lookup fails.
func (c *SlackChannel) channelName(ctx context.Context, channelID string) string {
	info, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil || info == nil {
		c.log.Warn().Err(err).Str("channel_id", channelID).Msg("Channel info lookup failed")
		return resolver.FallbackSlug
	}
	return info.Name
}

// userName looks up a display name for a user ID, defaulting to "Unknown"
// when the lookup fails.
func (c *SlackChannel) userName(ctx context.Context, userID string) string {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil || user == nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("User info lookup failed")
		return envelope.UnknownUsername
	}
	return slackDisplayName(user)
}

func slackDisplayName(user *slack.User) string {
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	if user.RealName != "" {
		return user.RealName
	}
	if user.Name != "" {
		return user.Name
	}
	return envelope.UnknownUsername
}

// autoJoinChannels joins every public channel so the bridge receives their
// message events. Channels it cannot join are skipped.
func (c *SlackChannel) autoJoinChannels(ctx context.Context) {
	joined := 0
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel"},
		Limit:           200,
		ExcludeArchived: true,
	}
	for {
		conversations, cursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			c.log.Warn().Err(err).Msg("Channel listing failed during auto-join")
			return
		}
		for _, conv := range conversations {
			if conv.IsMember {
				continue
			}
			if _, _, _, err := c.api.JoinConversationContext(ctx, conv.ID); err != nil {
				msg := err.Error()
				switch {
				case strings.Contains(msg, "already_in_channel"):
				case strings.Contains(msg, "is_archived"):
					c.log.Debug().Str("channel", conv.Name).Msg("Skipped archived channel")
				case strings.Contains(msg, "restricted_action"):
					c.log.Debug().Str("channel", conv.Name).Msg("Cannot join restricted channel")
				default:
					c.log.Warn().Err(err).Str("channel", conv.Name).Msg("Join failed")
				}
				continue
			}
			joined++
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	c.log.Info().Int("joined", joined).Msg("Auto-join complete")
}

// SendText posts text into a Slack channel under the bridge username.
func (c *SlackChannel) SendText(ctx context.Context, channelID, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionUsername(bridgeUsername),
	)
	if err != nil {
		return fmt.Errorf("post to %s: %w", channelID, err)
	}
	return nil
}

// ListChannels implements resolver.Directory over conversations.list with
// cursor pagination.
func (c *SlackChannel) ListChannels(ctx context.Context) ([]resolver.Channel, error) {
	var out []resolver.Channel
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		Limit:           200,
		ExcludeArchived: true,
	}
	for {
		conversations, cursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.list: %w", err)
		}
		for _, conv := range conversations {
			out = append(out, resolver.Channel{ID: conv.ID, Name: conv.Name})
		}
		if cursor == "" {
			return out, nil
		}
		params.Cursor = cursor
	}
}

// CreateChannel implements resolver.Directory over conversations.create,
// classifying the Slack error strings the resolver branches on.
func (c *SlackChannel) CreateChannel(ctx context.Context, name string) (resolver.Channel, error) {
	ch, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: name,
	})
	if err != nil {
		return resolver.Channel{}, classifySlackCreateError(name, err)
	}
	return resolver.Channel{ID: ch.ID, Name: ch.Name}, nil
}

func classifySlackCreateError(name string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "name_taken"):
		return fmt.Errorf("create %q: %w", name, resolver.ErrNameTaken)
	case strings.Contains(msg, "missing_scope"), strings.Contains(msg, "restricted_action"):
		return fmt.Errorf("create %q: %w", name, resolver.ErrPermissionDenied)
	case strings.Contains(msg, "invalid_name"):
		return fmt.Errorf("create %q: %w", name, resolver.ErrInvalidName)
	}
	return fmt.Errorf("create %q: %w", name, err)
}
