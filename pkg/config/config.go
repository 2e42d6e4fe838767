package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Broker  BrokerConfig  `json:"broker"`
	Slack   SlackConfig   `json:"slack"`
	Discord DiscordConfig `json:"discord"`
	Log     LogConfig     `json:"log"`
}

type BrokerConfig struct {
	Addr     string `env:"BRIDGECLAW_BROKER_ADDR"     json:"addr"`
	Password string `env:"BRIDGECLAW_BROKER_PASSWORD" json:"password,omitempty"`
	DB       int    `env:"BRIDGECLAW_BROKER_DB"       json:"db"`
}

type SlackConfig struct {
	BotToken string `env:"BRIDGECLAW_SLACK_BOT_TOKEN" json:"bot_token"`
	AppToken string `env:"BRIDGECLAW_SLACK_APP_TOKEN" json:"app_token"`
	// AutoJoin makes the bridge join every public channel at startup so it
	// receives message events from all of them.
	AutoJoin bool `env:"BRIDGECLAW_SLACK_AUTO_JOIN" json:"auto_join"`
}

type DiscordConfig struct {
	Token   string `env:"BRIDGECLAW_DISCORD_TOKEN"    json:"token"`
	GuildID string `env:"BRIDGECLAW_DISCORD_GUILD_ID" json:"guild_id"`
	// Announce posts a short online notice to the default channel when the
	// bridge connects.
	Announce bool `env:"BRIDGECLAW_DISCORD_ANNOUNCE" json:"announce"`
}

type LogConfig struct {
	Level string `env:"BRIDGECLAW_LOG_LEVEL" json:"level"`
}

// Validate checks the fields the Slack process cannot start without.
func (c *SlackConfig) Validate() error {
	if c.BotToken == "" {
		return errors.New("slack bot_token is required")
	}
	if c.AppToken == "" {
		return errors.New("slack app_token is required")
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return errors.New("slack app_token must be an app-level token (xapp-...)")
	}
	return nil
}

// Validate checks the fields the Discord process cannot start without.
func (c *DiscordConfig) Validate() error {
	if c.Token == "" {
		return errors.New("discord token is required")
	}
	if c.GuildID == "" {
		return errors.New("discord guild_id is required")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Slack: SlackConfig{
			AutoJoin: true,
		},
		Discord: DiscordConfig{
			Announce: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a JSON config file and applies environment overrides. A
// missing file is not an error; defaults plus environment apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}
