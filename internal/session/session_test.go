package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/log"
)

type fakeChat struct {
	text string
}

func (f *fakeChat) TranscriptText() string { return f.text }

type recordedEvent struct {
	description string
	fields      map[string]any
}

type fakeRecorder struct {
	events []recordedEvent
}

func (f *fakeRecorder) Record(description string, fields map[string]any) {
	f.events = append(f.events, recordedEvent{description: description, fields: fields})
}

// testClock is a manually advanced clock for deterministic eviction tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, clock *testClock, rec Recorder) *Store {
	t.Helper()

	return NewStore(StoreConfig{
		IdleTimeout: DefaultIdleTimeout,
		Analytics:   rec,
		Logger:      log.NewNop(),
		Clock:       clock.Now,
	})
}

func TestGetOrCreateNewSession(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	store := newTestStore(t, clock, rec)

	factoryCalls := 0
	factory := func() Chat {
		factoryCalls++
		return &fakeChat{text: "transcript"}
	}

	key, chat, err := store.GetOrCreate(factory, "", "diagrams", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if factoryCalls != 1 {
		t.Errorf("factory calls = %d, want 1", factoryCalls)
	}
	if !strings.HasPrefix(key, "diagrams-") {
		t.Errorf("key = %q, want prefix %q", key, "diagrams-")
	}
	if chat == nil {
		t.Fatal("GetOrCreate() chat = nil")
	}
	if got := store.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	if len(rec.events) != 1 {
		t.Fatalf("recorded events = %d, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.description != "Creating a new chat session" {
		t.Errorf("event description = %q", ev.description)
	}
	if ev.fields["category"] != "diagrams" || ev.fields["user"] != "alice" {
		t.Errorf("event fields = %v", ev.fields)
	}
}

func TestGetOrCreateResumesExisting(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	factoryCalls := 0
	factory := func() Chat {
		factoryCalls++
		return &fakeChat{}
	}

	key, first, err := store.GetOrCreate(factory, "", "chat", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	sameKey, second, err := store.GetOrCreate(factory, key, "chat", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate() resume error = %v", err)
	}

	if factoryCalls != 1 {
		t.Errorf("factory calls = %d, want 1: resuming must not build a new chat", factoryCalls)
	}
	if sameKey != key {
		t.Errorf("resumed key = %q, want %q", sameKey, key)
	}
	if first != second {
		t.Error("resumed chat differs from the created one")
	}
	if got := store.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestGetUnknownKey(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	if _, err := store.Get("nope"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Get() error = %v, want ErrInvalidSession", err)
	}
}

func TestIdleEviction(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock, nil)

	key, _, err := store.GetOrCreate(func() Chat { return &fakeChat{} }, "", "chat", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	clock.Advance(DefaultIdleTimeout + time.Minute)

	if _, err := store.Get(key); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Get() after idle timeout error = %v, want ErrInvalidSession", err)
	}
	if got := store.Len(); got != 0 {
		t.Errorf("Len() after eviction = %d, want 0", got)
	}
}

func TestAccessExtendsLifetime(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock, nil)

	key, _, err := store.GetOrCreate(func() Chat { return &fakeChat{} }, "", "chat", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	clock.Advance(20 * time.Minute)
	if _, err := store.Get(key); err != nil {
		t.Fatalf("Get() at 20m error = %v", err)
	}

	// Another 20 minutes puts the session past the original deadline but
	// within the refreshed one.
	clock.Advance(20 * time.Minute)
	if _, err := store.Get(key); err != nil {
		t.Errorf("Get() at 40m error = %v, want nil after access refresh", err)
	}
}

func TestEvictionOnlyRemovesStaleSessions(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock, nil)

	staleKey, _, _ := store.GetOrCreate(func() Chat { return &fakeChat{} }, "", "chat", "alice")
	clock.Advance(25 * time.Minute)
	freshKey, _, _ := store.GetOrCreate(func() Chat { return &fakeChat{} }, "", "chat", "bob")
	clock.Advance(10 * time.Minute)

	if _, err := store.Get(freshKey); err != nil {
		t.Errorf("Get(fresh) error = %v", err)
	}
	if _, err := store.Get(staleKey); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Get(stale) error = %v, want ErrInvalidSession", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	key, _, _ := store.GetOrCreate(func() Chat { return &fakeChat{} }, "", "chat", "alice")
	store.Delete(key)
	store.Delete(key)

	if got := store.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestDumpAsText(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newTestStore(t, clock, nil)

	key, _, _ := store.GetOrCreate(func() Chat { return &fakeChat{text: "system: sys\nhuman: hi"} }, "", "chat", "alice")

	tests := []struct {
		name  string
		key   string
		owner string
		want  string
	}{
		{
			name:  "owner sees the transcript",
			key:   key,
			owner: "alice",
			want:  "system: sys\nhuman: hi",
		},
		{
			name:  "wrong owner gets a miss",
			key:   key,
			owner: "mallory",
			want:  fmt.Sprintf("Chat session with ID %s not found", key),
		},
		{
			name:  "unknown key gets a miss",
			key:   "missing",
			owner: "alice",
			want:  "Chat session with ID missing not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.DumpAsText(tt.key, tt.owner); got != tt.want {
				t.Errorf("DumpAsText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetOrCreateDefaultsIdentity(t *testing.T) {
	clock := &testClock{now: time.Now()}
	rec := &fakeRecorder{}
	store := newTestStore(t, clock, rec)

	key, _, err := store.GetOrCreate(func() Chat { return &fakeChat{} }, "", "", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !strings.HasPrefix(key, "unknown-") {
		t.Errorf("key = %q, want prefix %q", key, "unknown-")
	}
	if got := rec.events[0].fields["user"]; got != "unknown" {
		t.Errorf("event user = %v, want %q", got, "unknown")
	}
}
