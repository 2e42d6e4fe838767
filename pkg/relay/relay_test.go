package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/bridgeclaw/pkg/envelope"
	"github.com/tinyland-inc/bridgeclaw/pkg/resolver"
)

// queueSource replays a fixed set of payloads, then reports cancellation.
type queueSource struct {
	payloads [][]byte
}

func (s *queueSource) Receive(_ context.Context) ([]byte, error) {
	if len(s.payloads) == 0 {
		return nil, context.Canceled
	}
	p := s.payloads[0]
	s.payloads = s.payloads[1:]
	return p, nil
}

// recordingSender captures delivered messages.
type recordingSender struct {
	sends   []string // "channelID|text"
	sendErr error
}

func (s *recordingSender) SendText(_ context.Context, channelID, text string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sends = append(s.sends, channelID+"|"+text)
	return nil
}

// memoryDirectory is an in-memory platform channel directory.
type memoryDirectory struct {
	channels []resolver.Channel
	creates  int
}

func (d *memoryDirectory) ListChannels(_ context.Context) ([]resolver.Channel, error) {
	return d.channels, nil
}

func (d *memoryDirectory) CreateChannel(_ context.Context, name string) (resolver.Channel, error) {
	d.creates++
	ch := resolver.Channel{ID: fmt.Sprintf("C%03d", len(d.channels)+1), Name: name}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func mustEncode(t *testing.T, env envelope.Envelope) []byte {
	t.Helper()
	data, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestRun_RelaysMessageIntoCreatedChannel(t *testing.T) {
	dir := &memoryDirectory{channels: []resolver.Channel{{ID: "C001", Name: "general"}}}
	sender := &recordingSender{}
	source := &queueSource{payloads: [][]byte{
		mustEncode(t, envelope.Envelope{
			Platform: envelope.PlatformSlack,
			Username: "Alice",
			Text:     "hello",
			Channel:  "Team Chat",
		}),
	}}

	r := New(source, resolver.New(dir, zerolog.Nop()), sender, zerolog.Nop())
	r.Run(context.Background())

	if dir.creates != 1 {
		t.Errorf("expected team-chat to be created once, creates = %d", dir.creates)
	}
	if len(dir.channels) != 2 || dir.channels[1].Name != "team-chat" {
		t.Errorf("expected created channel team-chat, got %+v", dir.channels)
	}
	if len(sender.sends) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sender.sends))
	}
	want := dir.channels[1].ID + "|Alice: hello"
	if sender.sends[0] != want {
		t.Errorf("delivery: got %q, want %q", sender.sends[0], want)
	}
}

func TestRun_ReusesExistingChannelOnCaseVariant(t *testing.T) {
	dir := &memoryDirectory{channels: []resolver.Channel{
		{ID: "C001", Name: "general"},
		{ID: "C002", Name: "Team-Chat"},
	}}
	sender := &recordingSender{}
	source := &queueSource{payloads: [][]byte{
		mustEncode(t, envelope.Envelope{
			Platform: envelope.PlatformDiscord,
			Username: "Bob",
			Text:     "hi again",
			Channel:  "team chat",
		}),
	}}

	r := New(source, resolver.New(dir, zerolog.Nop()), sender, zerolog.Nop())
	r.Run(context.Background())

	if dir.creates != 0 {
		t.Errorf("expected no duplicate channel, creates = %d", dir.creates)
	}
	if len(sender.sends) != 1 || sender.sends[0] != "C002|Bob: hi again" {
		t.Errorf("unexpected deliveries: %v", sender.sends)
	}
}

func TestRun_BadPayloadDoesNotStopLoop(t *testing.T) {
	dir := &memoryDirectory{channels: []resolver.Channel{{ID: "C001", Name: "general"}}}
	sender := &recordingSender{}
	source := &queueSource{payloads: [][]byte{
		[]byte("not an envelope"),
		[]byte(`{"platform":"slack","text":"no username","channel":"general"}`),
		mustEncode(t, envelope.Envelope{
			Platform: envelope.PlatformSlack,
			Username: "Alice",
			Text:     "still here",
			Channel:  "general",
		}),
	}}

	r := New(source, resolver.New(dir, zerolog.Nop()), sender, zerolog.Nop())
	r.Run(context.Background())

	if len(sender.sends) != 1 {
		t.Fatalf("expected the valid message to survive, got %d deliveries", len(sender.sends))
	}
	if sender.sends[0] != "C001|Alice: still here" {
		t.Errorf("delivery: got %q", sender.sends[0])
	}
}

func TestRun_SendFailureDropsOnlyThatMessage(t *testing.T) {
	dir := &memoryDirectory{channels: []resolver.Channel{{ID: "C001", Name: "general"}}}
	sender := &recordingSender{sendErr: errors.New("native send failed")}
	source := &queueSource{payloads: [][]byte{
		mustEncode(t, envelope.Envelope{
			Platform: envelope.PlatformSlack,
			Username: "Alice",
			Text:     "lost",
			Channel:  "general",
		}),
		mustEncode(t, envelope.Envelope{
			Platform: envelope.PlatformSlack,
			Username: "Alice",
			Text:     "also lost",
			Channel:  "general",
		}),
	}}

	r := New(source, resolver.New(dir, zerolog.Nop()), sender, zerolog.Nop())
	r.Run(context.Background()) // must not panic or hang

	if len(sender.sends) != 0 {
		t.Errorf("expected no recorded deliveries, got %v", sender.sends)
	}
}

// unresolvableDirectory fails every call, so even the fallback is missing.
type unresolvableDirectory struct{}

func (unresolvableDirectory) ListChannels(_ context.Context) ([]resolver.Channel, error) {
	return nil, errors.New("api down")
}

func (unresolvableDirectory) CreateChannel(_ context.Context, _ string) (resolver.Channel, error) {
	return resolver.Channel{}, errors.New("api down")
}

func TestRun_UnresolvedChannelDropsMessage(t *testing.T) {
	sender := &recordingSender{}
	source := &queueSource{payloads: [][]byte{
		mustEncode(t, envelope.Envelope{
			Platform: envelope.PlatformDiscord,
			Username: "Bob",
			Text:     "nowhere to go",
			Channel:  "missing",
		}),
	}}

	r := New(source, resolver.New(unresolvableDirectory{}, zerolog.Nop()), sender, zerolog.Nop())
	r.Run(context.Background())

	if len(sender.sends) != 0 {
		t.Errorf("expected message to be dropped, got %v", sender.sends)
	}
}

func TestFormatText(t *testing.T) {
	got := FormatText(envelope.Envelope{Username: "Alice", Text: "hello"})
	if got != "Alice: hello" {
		t.Errorf("got %q", got)
	}

	got = FormatText(envelope.Envelope{Username: "", Text: "anon"})
	if got != "Unknown: anon" {
		t.Errorf("empty username: got %q", got)
	}
}
