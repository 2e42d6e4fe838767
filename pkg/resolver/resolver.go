// Package resolver maps canonical channel slugs to platform-native channel
// handles, creating channels on demand.
//
// Each bridge process owns one Resolver for its own platform. The cache is
// process-local and never evicted; entries live for the process lifetime.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/bridgeclaw/pkg/slug"
)

// FallbackSlug is the well-known default channel both platforms are assumed
// to have. Messages whose target channel cannot be created land here.
const FallbackSlug = "general"

// Create-failure classification. Platform directories map their SDK errors
// onto these sentinels so the resolver can pick the right branch.
var (
	// ErrNameTaken means another resolver won the create race; the channel
	// now exists and a re-list will find it.
	ErrNameTaken = errors.New("channel name already taken")
	// ErrPermissionDenied means the bridge identity may not create
	// channels. Not retried.
	ErrPermissionDenied = errors.New("channel create permission denied")
	// ErrInvalidName means the platform rejected the slug as a channel
	// name. Not retried.
	ErrInvalidName = errors.New("invalid channel name")
)

// ErrChannelUnresolved is returned when no usable destination channel was
// found even after falling back to the default channel. The caller drops
// the message.
var ErrChannelUnresolved = errors.New("no usable destination channel")

// Channel is a platform-native channel handle.
type Channel struct {
	ID   string
	Name string
}

// Directory is the narrow per-platform capability the resolver wraps.
type Directory interface {
	ListChannels(ctx context.Context) ([]Channel, error)
	CreateChannel(ctx context.Context, name string) (Channel, error)
}

// Resolver resolves channel slugs against one platform, with a
// process-lifetime cache and a deterministic fallback channel.
//
// Access is serialized: the underlying SDK clients are not assumed to be
// safe for concurrent channel creation, and serialization also makes
// in-process resolution races trivially idempotent.
type Resolver struct {
	dir   Directory
	mu    sync.Mutex
	cache map[string]Channel
	log   zerolog.Logger
}

// New creates a Resolver over the given platform directory.
func New(dir Directory, log zerolog.Logger) *Resolver {
	return &Resolver{
		dir:   dir,
		cache: make(map[string]Channel),
		log:   log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the channel handle for slug, creating the channel if it
// does not exist. When the channel cannot be found or created, the
// platform's default channel is returned instead; only when even that is
// missing does Resolve fail with ErrChannelUnresolved.
func (r *Resolver) Resolve(ctx context.Context, slug string) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.cache[slug]; ok {
		return ch, nil
	}

	ch, err := r.lookupLocked(ctx, slug)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, errNotFound) {
		r.log.Warn().Err(err).Str("slug", slug).Msg("Channel listing failed, trying fallback")
		return r.fallbackLocked(ctx, slug)
	}

	ch, err = r.dir.CreateChannel(ctx, slug)
	if err == nil {
		r.log.Info().Str("slug", slug).Str("channel_id", ch.ID).Msg("Created channel")
		r.cache[slug] = ch
		return ch, nil
	}

	switch {
	case errors.Is(err, ErrNameTaken):
		// Another resolver or process won the create race. The channel
		// exists now, so a fresh list must find it.
		if ch, lookupErr := r.lookupLocked(ctx, slug); lookupErr == nil {
			return ch, nil
		}
		r.log.Warn().Str("slug", slug).Msg("Name taken but channel not found on re-list, trying fallback")
	case errors.Is(err, ErrPermissionDenied):
		r.log.Warn().Str("slug", slug).Msg("No permission to create channel, trying fallback")
	case errors.Is(err, ErrInvalidName):
		r.log.Warn().Str("slug", slug).Msg("Platform rejected channel name, trying fallback")
	default:
		r.log.Warn().Err(err).Str("slug", slug).Msg("Channel create failed, trying fallback")
	}

	return r.fallbackLocked(ctx, slug)
}

// errNotFound distinguishes "listed fine, no match" from listing failures.
var errNotFound = errors.New("channel not found")

// lookupLocked lists native channels and scans for a slug match. Listed
// names are normalized before comparison, so a channel named "Team-Chat"
// matches the slug "team-chat" regardless of how the platform renders the
// name. Populates the cache on a hit. Callers must hold r.mu.
func (r *Resolver) lookupLocked(ctx context.Context, target string) (Channel, error) {
	channels, err := r.dir.ListChannels(ctx)
	if err != nil {
		return Channel{}, fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		if slug.Normalize(ch.Name) == target {
			r.cache[target] = ch
			return ch, nil
		}
	}
	return Channel{}, errNotFound
}

// fallbackLocked resolves the default channel. The fallback is looked up,
// never created. Callers must hold r.mu.
func (r *Resolver) fallbackLocked(ctx context.Context, slug string) (Channel, error) {
	if ch, ok := r.cache[FallbackSlug]; ok {
		return ch, nil
	}
	ch, err := r.lookupLocked(ctx, FallbackSlug)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %q unavailable and no %q fallback", ErrChannelUnresolved, slug, FallbackSlug)
	}
	return ch, nil
}
