package hostevents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pushbridge/internal/batcher"
	"pushbridge/internal/composer"
	"pushbridge/internal/delivery"
	"pushbridge/internal/directory"
	"pushbridge/internal/prefs"
	"pushbridge/internal/relay"
	logx "pushbridge/pkg/logx"
)

func token(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

// fakeStore is an in-memory directory with settable preferences.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*directory.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*directory.User{}}
}

func (f *fakeStore) addUser(id, tok string, p *prefs.Preferences) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &directory.User{ID: id, Tokens: []string{tok}, Preferences: p}
}

func (f *fakeStore) Load(context.Context) ([]directory.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]directory.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeStore) GetTokensForUsers(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.users {
		if ids != nil && !contains(ids, u.ID) {
			continue
		}
		out = append(out, u.Tokens...)
	}
	return out, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (f *fakeStore) SetPreferences(_ context.Context, id string, p prefs.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[id]; u != nil {
		cp := p
		u.Preferences = &cp
	}
	return nil
}

func (f *fakeStore) GetPreferences(context.Context, string) (prefs.Preferences, bool, error) {
	return prefs.Preferences{}, false, nil
}
func (f *fakeStore) UpsertToken(context.Context, string, string) (bool, error) { return false, nil }
func (f *fakeStore) RemoveToken(context.Context, string) (int, error)          { return 0, nil }
func (f *fakeStore) DeleteUser(context.Context, string) error                  { return nil }
func (f *fakeStore) Compact(context.Context) error                             { return nil }
func (f *fakeStore) Close() error                                              { return nil }

type fakeSender struct {
	mu    sync.Mutex
	calls []relay.Message
	ch    chan relay.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan relay.Message, 16)}
}

func (f *fakeSender) Send(_ context.Context, m relay.Message) (relay.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m)
	f.mu.Unlock()
	f.ch <- m
	return relay.Result{Status: 200}, nil
}

func (f *fakeSender) next(t *testing.T, within time.Duration) relay.Message {
	t.Helper()
	select {
	case m := <-f.ch:
		return m
	case <-time.After(within):
		t.Fatal("timed out waiting for delivery")
		return relay.Message{}
	}
}

func (f *fakeSender) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case m := <-f.ch:
		t.Fatalf("unexpected delivery: %+v", m)
	case <-time.After(within):
	}
}

type fixture struct {
	store   *fakeStore
	sender  *fakeSender
	adapter *Adapter

	mu       sync.Mutex
	defaults prefs.Defaults
}

func newFixture(t *testing.T, bcfg batcher.Config) *fixture {
	t.Helper()
	fx := &fixture{
		store:    newFakeStore(),
		sender:   newFakeSender(),
		defaults: prefs.Defaults{ItemAdded: true, PlaybackStart: true, PlaybackStop: true},
	}
	comp := composer.New("en")
	del := delivery.New(delivery.Config{}, fx.store, fx.sender, comp, nil, logx.Nop())
	fx.adapter = New(bcfg, fx.store, del, comp, fx.currentDefaults, nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = fx.adapter.Batcher().Close(ctx)
	})
	return fx
}

func (fx *fixture) currentDefaults() prefs.Defaults {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.defaults
}

func (fx *fixture) setDefaults(d prefs.Defaults) {
	fx.mu.Lock()
	fx.defaults = d
	fx.mu.Unlock()
}

func intp(v int) *int { return &v }

func TestSingleEpisodeGetsDetailedMessage(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: 30 * time.Millisecond, MaxWindow: time.Second})
	fx.store.addUser("alice", token("ab"), nil)

	fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
		ItemID: "ep-1", Type: TypeEpisode, Name: "Half Loop",
		SeriesID: "sev", SeriesName: "Severance", Season: intp(1), Episode: intp(2),
	})

	m := fx.sender.next(t, time.Second)
	if !strings.Contains(m.Body, "S1E2") || !strings.Contains(m.Body, "Half Loop") {
		t.Fatalf("body = %q, want the detailed single-episode message", m.Body)
	}
	// A single-episode message deep-links to the episode.
	if m.ItemID != "ep-1" {
		t.Fatalf("ItemID = %q, want ep-1", m.ItemID)
	}
}

func TestEpisodeBurstGetsCountMessage(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: 40 * time.Millisecond, MaxWindow: 5 * time.Second})
	fx.store.addUser("alice", token("ab"), nil)

	for i := 1; i <= 5; i++ {
		fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
			ItemID: "ep", Type: TypeEpisode, Name: "E", SeriesID: "sev",
			SeriesName: "Severance", Season: intp(1), Episode: intp(i),
		})
	}

	m := fx.sender.next(t, time.Second)
	if !strings.Contains(m.Body, "5") || !strings.Contains(m.Body, "Severance") {
		t.Fatalf("body = %q, want the 5-episode summary", m.Body)
	}
	if m.ItemID != "" {
		t.Fatalf("ItemID = %q, a batch summary must not deep-link", m.ItemID)
	}
	fx.sender.none(t, 150*time.Millisecond)
}

func TestEpisodeBurstWithoutSeriesName(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: 40 * time.Millisecond, MaxWindow: 5 * time.Second})
	fx.store.addUser("alice", token("ab"), nil)

	// A series id groups the batch even when the host has no name for it.
	for i := 1; i <= 5; i++ {
		fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
			ItemID: "ep", Type: TypeEpisode, Name: "E", SeriesID: "sev",
		})
	}

	m := fx.sender.next(t, time.Second)
	if !strings.Contains(m.Body, "5") {
		t.Fatalf("body = %q, want the count summary", m.Body)
	}
	if m.ItemID != "" {
		t.Fatalf("ItemID = %q, want empty", m.ItemID)
	}
}

func TestEpisodeWithoutSeriesBypassesBatching(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: time.Hour, MaxWindow: 2 * time.Hour})
	fx.store.addUser("alice", token("ab"), nil)

	fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
		ItemID: "ep-x", Type: TypeEpisode, Name: "Orphan",
	})

	m := fx.sender.next(t, time.Second)
	if !strings.Contains(m.Body, "Orphan") {
		t.Fatalf("body = %q", m.Body)
	}
}

func TestKillSwitchSilencesFlush(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: 30 * time.Millisecond, MaxWindow: time.Second})
	fx.store.addUser("alice", token("ab"), &prefs.Preferences{ItemAdded: prefs.FlagAllow})
	fx.setDefaults(prefs.Defaults{})

	fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
		ItemID: "ep-1", Type: TypeEpisode, Name: "E", SeriesID: "sev", SeriesName: "S",
	})
	fx.sender.none(t, 200*time.Millisecond)
}

func TestPreferencesResolvedAtFlushTime(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: 100 * time.Millisecond, MaxWindow: time.Second})
	fx.store.addUser("alice", token("ab"), nil)

	fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
		ItemID: "ep-1", Type: TypeEpisode, Name: "E", SeriesID: "sev", SeriesName: "S",
	})
	// Opting out inside the debounce window must suppress the flush delivery.
	if err := fx.store.SetPreferences(context.Background(), "alice", prefs.Preferences{ItemAdded: prefs.FlagDeny}); err != nil {
		t.Fatal(err)
	}
	fx.sender.none(t, 300*time.Millisecond)
}

func TestMovieAddedIsImmediate(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: time.Hour, MaxWindow: 2 * time.Hour})
	fx.store.addUser("alice", token("ab"), nil)

	fx.adapter.HandleItemAdded(context.Background(), ItemAdded{
		ItemID: "m-1", Type: TypeMovie, Name: "Heat",
	})

	m := fx.sender.next(t, time.Second)
	if !strings.Contains(m.Body, "Heat") || m.ItemID != "m-1" {
		t.Fatalf("message = %+v", m)
	}
}

func TestUnknownItemTypeIgnored(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: 30 * time.Millisecond, MaxWindow: time.Second})
	fx.store.addUser("alice", token("ab"), nil)

	fx.adapter.HandleItemAdded(context.Background(), ItemAdded{ItemID: "x", Type: "Photo", Name: "IMG_0001"})
	fx.sender.none(t, 150*time.Millisecond)
}

func TestPlaybackEvents(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, batcher.Config{Window: time.Hour, MaxWindow: 2 * time.Hour})
	fx.store.addUser("alice", token("ab"), nil)

	fx.adapter.HandlePlaybackStart(context.Background(), Playback{UserID: "bob", ItemID: "m-1", ItemName: "Heat"})
	start := fx.sender.next(t, time.Second)
	if !strings.Contains(start.Body, "Heat") || !strings.Contains(start.Body, "bob") {
		t.Fatalf("start body = %q", start.Body)
	}

	fx.adapter.HandlePlaybackStopped(context.Background(), Playback{UserID: "bob", ItemID: "m-1", ItemName: "Heat"})
	stop := fx.sender.next(t, time.Second)
	if stop.Title == start.Title {
		t.Fatal("start and stop must use distinct titles")
	}
}
