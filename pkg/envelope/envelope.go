// Package envelope defines the canonical message record exchanged between
// the two bridge processes over the broker.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Platform identifies the origin platform of an envelope, never the
// destination.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformDiscord Platform = "discord"
)

// UnknownUsername is substituted when the origin platform cannot resolve a
// display name for the author.
const UnknownUsername = "Unknown"

// ErrDecode is wrapped by all Decode failures. A payload that fails to
// decode is dropped by the relay; it never terminates the loop.
var ErrDecode = fmt.Errorf("envelope decode failed")

// Envelope is the canonical unit published on a broker topic. It is built
// once from a single native event and is immutable after publish.
type Envelope struct {
	Platform  Platform `json:"platform"`
	Username  string   `json:"username"`
	Text      string   `json:"text"`
	Channel   string   `json:"channel"`
	UserID    string   `json:"user_id"`
	ChannelID string   `json:"channel_id"`
	Timestamp string   `json:"timestamp"`
}

// Encode serializes an envelope for broker publish.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a broker payload. Platform, username, text, and channel are
// mandatory for relay to proceed, and platform must name one of the two
// bridged platforms; user_id, channel_id, and timestamp are best-effort and
// may be empty. Unknown fields are ignored so envelope
// versions can drift between the two processes.
func Decode(data []byte) (Envelope, error) {
	var raw struct {
		Platform  *Platform `json:"platform"`
		Username  *string   `json:"username"`
		Text      *string   `json:"text"`
		Channel   *string   `json:"channel"`
		UserID    string    `json:"user_id"`
		ChannelID string    `json:"channel_id"`
		Timestamp string    `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch {
	case raw.Platform == nil:
		return Envelope{}, fmt.Errorf("%w: missing field %q", ErrDecode, "platform")
	case raw.Username == nil:
		return Envelope{}, fmt.Errorf("%w: missing field %q", ErrDecode, "username")
	case raw.Text == nil:
		return Envelope{}, fmt.Errorf("%w: missing field %q", ErrDecode, "text")
	case raw.Channel == nil:
		return Envelope{}, fmt.Errorf("%w: missing field %q", ErrDecode, "channel")
	}
	if *raw.Platform != PlatformSlack && *raw.Platform != PlatformDiscord {
		return Envelope{}, fmt.Errorf("%w: unknown platform %q", ErrDecode, *raw.Platform)
	}

	return Envelope{
		Platform:  *raw.Platform,
		Username:  *raw.Username,
		Text:      *raw.Text,
		Channel:   *raw.Channel,
		UserID:    raw.UserID,
		ChannelID: raw.ChannelID,
		Timestamp: raw.Timestamp,
	}, nil
}
