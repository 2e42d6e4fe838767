package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/bridgeclaw/pkg/broker"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/envelope"
	"github.com/tinyland-inc/bridgeclaw/pkg/resolver"
)

// DiscordChannel connects to one Discord guild, publishes accepted message
// events as envelopes, and implements resolver.Directory and relay.Sender
// for the Slack-to-Discord direction.
type DiscordChannel struct {
	*BaseChannel
	cfg     config.DiscordConfig
	session *discordgo.Session
}

func NewDiscordChannel(cfg config.DiscordConfig, b *broker.Broker, log zerolog.Logger) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", broker.TopicDiscordToSlack, b, log),
		cfg:         cfg,
		session:     session,
	}, nil
}

// Start opens the gateway connection and registers the message handler.
func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	c.log.Info().Str("guild_id", c.cfg.GuildID).Msg("Connected to Discord")
	c.setRunning(true)

	if c.cfg.Announce {
		c.announce(ctx)
	}
	return nil
}

// Stop closes the gateway connection.
func (c *DiscordChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	return c.session.Close()
}

// announce posts an online notice into the default channel, if it exists.
func (c *DiscordChannel) announce(ctx context.Context) {
	channels, err := c.ListChannels(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Announce skipped, channel listing failed")
		return
	}
	for _, ch := range channels {
		if ch.Name == resolver.FallbackSlug {
			if err := c.SendText(ctx, ch.ID, "Bridge is online"); err != nil {
				c.log.Warn().Err(err).Msg("Announce failed")
			}
			return
		}
	}
	c.log.Debug().Str("channel", resolver.FallbackSlug).Msg("No default channel to announce in")
}

func (c *DiscordChannel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if !shouldRelayDiscordMessage(m, c.botUserID()) {
		return
	}
	if c.handleCommand(ctx, m) {
		return
	}

	c.publishEnvelope(ctx, envelope.Envelope{
		Platform:  envelope.PlatformDiscord,
		Username:  discordDisplayName(m),
		Text:      m.Content,
		Channel:   c.channelName(m.ChannelID),
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (c *DiscordChannel) botUserID() string {
	if c.session.State != nil && c.session.State.User != nil {
		return c.session.State.User.ID
	}
	return ""
}

// shouldRelayDiscordMessage decides whether a message event crosses the
// bridge. Bot-authored messages (including the bridge's own) and direct
// messages stay on Discord.
func shouldRelayDiscordMessage(m *discordgo.MessageCreate, botUserID string) bool {
	if m == nil || m.Author == nil {
		return false
	}
	if m.Author.Bot {
		return false
	}
	if botUserID != "" && m.Author.ID == botUserID {
		return false
	}
	if m.GuildID == "" {
		return false
	}
	return true
}

// discordDisplayName picks the most specific display name the event
// carries: guild nickname, then global name, then account name.
func discordDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	if m.Author.Username != "" {
		return m.Author.Username
	}
	return envelope.UnknownUsername
}

// handleCommand answers the bridge's chat commands locally. Command
// messages are not relayed to the other platform.
func (c *DiscordChannel) handleCommand(ctx context.Context, m *discordgo.MessageCreate) bool {
	switch strings.TrimSpace(m.Content) {
	case "!status":
		reply := fmt.Sprintf("Bridge is running (%s)", statusWord(c.IsRunning()))
		if _, err := c.session.ChannelMessageSend(m.ChannelID, reply); err != nil {
			c.log.Warn().Err(err).Msg("Status reply failed")
		}
		return true
	case "!channels":
		channels, err := c.ListChannels(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("Channel list command failed")
			return true
		}
		names := make([]string, 0, len(channels))
		for _, ch := range channels {
			names = append(names, ch.Name)
		}
		reply := "Available channels: " + strings.Join(names, ", ")
		if _, err := c.session.ChannelMessageSend(m.ChannelID, reply); err != nil {
			c.log.Warn().Err(err).Msg("Channels reply failed")
		}
		return true
	}
	return false
}

func statusWord(running bool) string {
	if running {
		return "connected"
	}
	return "disconnected"
}

// channelName resolves a channel ID to its display name, preferring the
// session state cache, defaulting to the fallback channel name on failure.
func (c *DiscordChannel) channelName(channelID string) string {
	if c.session.State != nil {
		if ch, err := c.session.State.Channel(channelID); err == nil && ch != nil {
			return ch.Name
		}
	}
	ch, err := c.session.Channel(channelID)
	if err != nil || ch == nil {
		c.log.Warn().Err(err).Str("channel_id", channelID).Msg("Channel lookup failed")
		return resolver.FallbackSlug
	}
	return ch.Name
}

// SendText delivers text into a Discord channel.
func (c *DiscordChannel) SendText(_ context.Context, channelID, text string) error {
	if _, err := c.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("send to %s: %w", channelID, err)
	}
	return nil
}

// ListChannels implements resolver.Directory over the guild's text
// channels.
func (c *DiscordChannel) ListChannels(_ context.Context) ([]resolver.Channel, error) {
	guildChannels, err := c.session.GuildChannels(c.cfg.GuildID)
	if err != nil {
		return nil, fmt.Errorf("guild channels: %w", err)
	}
	out := make([]resolver.Channel, 0, len(guildChannels))
	for _, ch := range guildChannels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, resolver.Channel{ID: ch.ID, Name: ch.Name})
	}
	return out, nil
}

// CreateChannel implements resolver.Directory, creating a text channel in
// the guild and classifying the REST error codes the resolver branches on.
func (c *DiscordChannel) CreateChannel(_ context.Context, name string) (resolver.Channel, error) {
	ch, err := c.session.GuildChannelCreateComplex(c.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:  name,
		Type:  discordgo.ChannelTypeGuildText,
		Topic: fmt.Sprintf("Bridged from Slack #%s", name),
	})
	if err != nil {
		return resolver.Channel{}, classifyDiscordCreateError(name, err)
	}
	return resolver.Channel{ID: ch.ID, Name: ch.Name}, nil
}

func classifyDiscordCreateError(name string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("create %q: %w", name, resolver.ErrPermissionDenied)
		case discordgo.ErrCodeInvalidFormBody:
			return fmt.Errorf("create %q: %w", name, resolver.ErrInvalidName)
		}
	}
	return fmt.Errorf("create %q: %w", name, err)
}
