package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeDirectory simulates a platform channel directory with injectable
// failures and call counting.
type fakeDirectory struct {
	mu        sync.Mutex
	channels  []Channel
	createErr error
	listErr   error
	lists     int
	creates   int
	nextID    int
}

func (d *fakeDirectory) ListChannels(_ context.Context) ([]Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists++
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]Channel, len(d.channels))
	copy(out, d.channels)
	return out, nil
}

func (d *fakeDirectory) CreateChannel(_ context.Context, name string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	if d.createErr != nil {
		return Channel{}, d.createErr
	}
	for _, ch := range d.channels {
		if ch.Name == name {
			return Channel{}, ErrNameTaken
		}
	}
	d.nextID++
	ch := Channel{ID: fmt.Sprintf("C%03d", d.nextID), Name: name}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func newTestResolver(dir Directory) *Resolver {
	return New(dir, zerolog.Nop())
}

func TestResolve_ExistingChannelCached(t *testing.T) {
	dir := &fakeDirectory{channels: []Channel{{ID: "C001", Name: "team-chat"}}}
	r := newTestResolver(dir)

	first, err := r.Resolve(context.Background(), "team-chat")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.ID != "C001" {
		t.Errorf("expected existing channel C001, got %q", first.ID)
	}
	if dir.creates != 0 {
		t.Errorf("expected no create for existing channel, got %d", dir.creates)
	}

	second, err := r.Resolve(context.Background(), "team-chat")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second != first {
		t.Errorf("expected cached handle %+v, got %+v", first, second)
	}
	if dir.lists != 1 {
		t.Errorf("second resolve should be served from cache, lists = %d", dir.lists)
	}
}

func TestResolve_ReusesChannelListedUnderNativeName(t *testing.T) {
	// Platforms report display names, not slugs. A channel listed as
	// "Team-Chat" must satisfy the slug "team-chat" instead of spawning a
	// duplicate.
	dir := &fakeDirectory{channels: []Channel{{ID: "C002", Name: "Team-Chat"}}}
	r := newTestResolver(dir)

	ch, err := r.Resolve(context.Background(), "team-chat")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ch.ID != "C002" {
		t.Errorf("expected existing channel C002 reused, got %+v", ch)
	}
	if dir.creates != 0 {
		t.Errorf("expected no duplicate create, creates = %d", dir.creates)
	}
}

func TestResolve_FallbackMatchesNativeName(t *testing.T) {
	dir := &fakeDirectory{
		channels:  []Channel{{ID: "C001", Name: "General"}},
		createErr: ErrPermissionDenied,
	}
	r := newTestResolver(dir)

	ch, err := r.Resolve(context.Background(), "locked-down")
	if err != nil {
		t.Fatalf("resolve should fall back, got error: %v", err)
	}
	if ch.ID != "C001" {
		t.Errorf("expected fallback channel C001, got %+v", ch)
	}
}

func TestResolve_CreatesMissingChannel(t *testing.T) {
	dir := &fakeDirectory{channels: []Channel{{ID: "C001", Name: "general"}}}
	r := newTestResolver(dir)

	ch, err := r.Resolve(context.Background(), "team-chat")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ch.Name != "team-chat" {
		t.Errorf("expected created channel team-chat, got %q", ch.Name)
	}
	if dir.creates != 1 {
		t.Errorf("expected exactly one create, got %d", dir.creates)
	}

	// Second resolve is a pure cache hit.
	lists := dir.lists
	if _, err := r.Resolve(context.Background(), "team-chat"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if dir.lists != lists || dir.creates != 1 {
		t.Errorf("cache miss on second resolve: lists=%d creates=%d", dir.lists, dir.creates)
	}
}

func TestResolve_ConcurrentCreateRace(t *testing.T) {
	dir := &fakeDirectory{}
	r := newTestResolver(dir)

	const n = 8
	results := make([]Channel, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "brand-new")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("resolve %d returned %+v, want %+v", i, results[i], results[0])
		}
	}
	if dir.creates != 1 {
		t.Errorf("expected exactly one native create, got %d", dir.creates)
	}
}

// racingDirectory simulates a cross-process race: the channel is absent on
// the first list, create reports name-taken, and the re-list sees the
// channel the other process created.
type racingDirectory struct {
	winner  Channel
	lists   int
	creates int
}

func (d *racingDirectory) ListChannels(_ context.Context) ([]Channel, error) {
	d.lists++
	if d.lists == 1 {
		return nil, nil
	}
	return []Channel{d.winner}, nil
}

func (d *racingDirectory) CreateChannel(_ context.Context, _ string) (Channel, error) {
	d.creates++
	return Channel{}, ErrNameTaken
}

func TestResolve_NameTakenRaceReturnsWinner(t *testing.T) {
	dir := &racingDirectory{winner: Channel{ID: "C042", Name: "contested"}}
	r := newTestResolver(dir)

	got, err := r.Resolve(context.Background(), "contested")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != dir.winner {
		t.Errorf("expected winner handle %+v, got %+v", dir.winner, got)
	}
	if dir.creates != 1 {
		t.Errorf("expected a single create attempt, got %d", dir.creates)
	}
}

func TestResolve_PermissionDeniedFallsBackToGeneral(t *testing.T) {
	dir := &fakeDirectory{
		channels:  []Channel{{ID: "C001", Name: "general"}},
		createErr: ErrPermissionDenied,
	}
	r := newTestResolver(dir)

	ch, err := r.Resolve(context.Background(), "locked-down")
	if err != nil {
		t.Fatalf("resolve should fall back, got error: %v", err)
	}
	if ch.Name != "general" {
		t.Errorf("expected general fallback, got %q", ch.Name)
	}
	if dir.creates != 1 {
		t.Errorf("permission denied must not be retried, creates = %d", dir.creates)
	}
}

func TestResolve_InvalidNameFallsBack(t *testing.T) {
	dir := &fakeDirectory{
		channels:  []Channel{{ID: "C001", Name: "general"}},
		createErr: ErrInvalidName,
	}
	r := newTestResolver(dir)

	ch, err := r.Resolve(context.Background(), "bad/name")
	if err != nil {
		t.Fatalf("resolve should fall back, got error: %v", err)
	}
	if ch.Name != "general" {
		t.Errorf("expected general fallback, got %q", ch.Name)
	}
}

func TestResolve_FallbackIsNeverCreated(t *testing.T) {
	dir := &fakeDirectory{createErr: errors.New("boom")}
	r := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), "anything")
	if !errors.Is(err, ErrChannelUnresolved) {
		t.Fatalf("expected ErrChannelUnresolved, got %v", err)
	}
	if dir.creates != 1 {
		t.Errorf("fallback channel must not be created, creates = %d", dir.creates)
	}
}

func TestResolve_UnresolvedWhenGeneralMissing(t *testing.T) {
	dir := &fakeDirectory{createErr: ErrPermissionDenied}
	r := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), "team-chat")
	if !errors.Is(err, ErrChannelUnresolved) {
		t.Errorf("expected ErrChannelUnresolved, got %v", err)
	}
}

func TestResolve_ListFailureFallsBack(t *testing.T) {
	dir := &fakeDirectory{listErr: errors.New("transient api error")}
	r := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), "team-chat")
	if !errors.Is(err, ErrChannelUnresolved) {
		t.Fatalf("expected ErrChannelUnresolved, got %v", err)
	}
	if dir.creates != 0 {
		t.Errorf("must not create blindly when listing fails, creates = %d", dir.creates)
	}

	// Once the platform recovers, resolution succeeds again.
	dir.mu.Lock()
	dir.listErr = nil
	dir.channels = []Channel{{ID: "C001", Name: "team-chat"}}
	dir.mu.Unlock()

	ch, err := r.Resolve(context.Background(), "team-chat")
	if err != nil {
		t.Fatalf("resolve after recovery: %v", err)
	}
	if ch.ID != "C001" {
		t.Errorf("expected C001, got %q", ch.ID)
	}
}

func TestResolve_FallbackHandleIsCached(t *testing.T) {
	dir := &fakeDirectory{
		channels:  []Channel{{ID: "C001", Name: "general"}},
		createErr: ErrPermissionDenied,
	}
	r := newTestResolver(dir)

	if _, err := r.Resolve(context.Background(), "first"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lists := dir.lists
	if _, err := r.Resolve(context.Background(), "second"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Second fallback should reuse the cached general handle instead of
	// re-listing for it.
	if dir.lists != lists+1 {
		t.Errorf("expected one list for the miss only, lists went %d -> %d", lists, dir.lists)
	}
}
