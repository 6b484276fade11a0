// Package session provides the in-process session store for conversations.
//
// Sessions live only in memory for the lifetime of the process: there is no
// persistence across restarts and no cross-process sharing. Entries expire
// after a fixed idle timeout, checked lazily on every create and lookup - no
// background timer runs.
//
// Thread safety: a single mutex owns the session map. Eviction sweeps,
// creation, attachment and lookup all run under it, so GetOrCreate has atomic
// check-and-create semantics.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/log"
)

// DefaultIdleTimeout is how long a session may sit unused before a sweep
// removes it.
const DefaultIdleTimeout = 30 * time.Minute

// unknownValue is recorded when a caller supplies no category or user.
const unknownValue = "unknown"

// Sentinel errors for store operations, checked with errors.Is().
var (
	// ErrNotFound indicates an Attach against a key the store has never
	// seen. This does not occur in the normal create-then-attach flow.
	ErrNotFound = errors.New("session entry not found")

	// ErrInvalidSession indicates a lookup for a key that is absent from
	// the store. An expired session is reported identically to one that
	// never existed, so callers cannot probe for expiry timing.
	ErrInvalidSession = errors.New("invalid session key, the session may have expired")
)

// Chat is the capability the store requires of a stored session object.
// The concrete streaming variants live in the chat package; the store only
// needs to dump their history.
type Chat interface {
	// TranscriptText renders the session's conversation history as text.
	TranscriptText() string
}

// Recorder receives fire-and-forget analytics events. Implementations must
// never block or fail the calling operation.
type Recorder interface {
	Record(description string, fields map[string]any)
}

// entry is one session record. The chat is nil momentarily between Create
// and Attach.
type entry struct {
	key        string
	createdAt  time.Time
	lastAccess time.Time
	user       string
	chat       Chat
}

// StoreConfig configures a Store. The zero value of every field has a
// usable default.
type StoreConfig struct {
	// IdleTimeout before an unused entry is evicted. 0 = DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Analytics receives session lifecycle events. nil = disabled.
	Analytics Recorder

	// Logger for diagnostics. nil = slog.Default().
	Logger log.Logger

	// Clock overrides time.Now, for tests. nil = time.Now.
	Clock func() time.Time
}

// Store is the in-memory session store.
//
// There is no capacity bound: sustained creation faster than the idle
// timeout grows the map without limit. This is an accepted property, not a
// bounded cache.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	idleTimeout time.Duration
	analytics   Recorder
	logger      log.Logger
	now         func() time.Time
}

// NewStore creates a session store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{
		entries:     make(map[string]*entry),
		idleTimeout: cfg.IdleTimeout,
		analytics:   cfg.Analytics,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}
}

// Create sweeps expired entries, then inserts a new entry with no chat bound
// yet and returns its key. Keys are "<category>-<uuid>", unique for the
// process lifetime.
func (s *Store) Create(category, user string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(category, user)
}

func (s *Store) createLocked(category, user string) string {
	s.evictLocked()

	if category == "" {
		category = unknownValue
	}
	if user == "" {
		user = unknownValue
	}

	key := category + "-" + uuid.NewString()
	now := s.now()
	s.entries[key] = &entry{
		key:        key,
		createdAt:  now,
		lastAccess: now,
		user:       user,
	}

	if s.analytics != nil {
		s.analytics.Record("Creating a new chat session", map[string]any{
			"category":    category,
			"session_key": key,
			"user":        user,
		})
	}
	s.logger.Debug("created session entry", "key", key, "category", category)
	return key
}

// Attach binds a constructed chat session to an existing entry.
func (s *Store) Attach(key string, chat Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachLocked(key, chat)
}

func (s *Store) attachLocked(key string, chat Chat) error {
	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("attach %q: %w", key, ErrNotFound)
	}
	e.chat = chat
	return nil
}

// Get sweeps expired entries, then returns the chat bound to key, bumping
// its last access time. Unknown and expired keys fail identically with
// ErrInvalidSession.
func (s *Store) Get(key string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (Chat, error) {
	s.evictLocked()

	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, ErrInvalidSession)
	}
	e.lastAccess = s.now()
	return e.chat, nil
}

// Delete removes the entry if present. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		s.logger.Debug("discarding session entry", "key", key)
		delete(s.entries, key)
	}
}

// GetOrCreate is the sole entry point used by higher layers. With an empty
// key it creates an entry, builds the chat via the caller-supplied factory
// and attaches it; otherwise it looks the key up. The whole sequence runs
// under the store lock, so two racing callers can never both create.
func (s *Store) GetOrCreate(factory func() Chat, key, category, user string) (string, Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		key = s.createLocked(category, user)
		chat := factory()
		if err := s.attachLocked(key, chat); err != nil {
			return "", nil, err
		}
		return key, chat, nil
	}

	chat, err := s.getLocked(key)
	if err != nil {
		return "", nil, err
	}
	return key, chat, nil
}

// DumpAsText renders the transcript of the session with the given key, if it
// exists and belongs to owner. A wrong owner reads the same as a missing
// session.
func (s *Store) DumpAsText(key, owner string) string {
	s.mu.Lock()
	e, ok := s.entries[key]
	var chat Chat
	if ok && e.user == owner {
		chat = e.chat
	}
	s.mu.Unlock()

	if chat == nil {
		return fmt.Sprintf("Chat session with ID %s not found", key)
	}
	return chat.TranscriptText()
}

// Len returns the number of live entries. Expired entries not yet swept are
// counted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked removes every entry idle longer than the timeout. O(n) over
// all entries, acceptable because sessions are process-local and short-lived.
// Caller must hold s.mu.
func (s *Store) evictLocked() {
	cutoff := s.now().Add(-s.idleTimeout)
	for key, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			s.logger.Debug("evicting expired session entry", "key", key, "last_access", e.lastAccess)
			delete(s.entries, key)
		}
	}
}
