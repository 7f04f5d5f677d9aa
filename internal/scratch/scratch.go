// Package scratch is the key/value scratch storage agents use to leave notes
// for themselves and for each other.
//
// Entries live in one of two scopes. Agent-scoped entries are private to the
// agent that wrote them and travel with its snapshot. Shared entries are
// visible to every agent in the pool.
package scratch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/internal/storage"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Scope is the visibility of an entry.
type Scope string

const (
	ScopeAgent  Scope = "agent"
	ScopeShared Scope = "shared"
)

const (
	// MaxKeyLength bounds entry keys.
	MaxKeyLength = 128
	// MaxValueSize bounds a single value in bytes.
	MaxValueSize = 64 * 1024
	// MaxEntries bounds the total number of live entries.
	MaxEntries = 1000

	sharedOwner = "_shared"
)

// ParseScope maps a tool argument to a Scope. Empty means agent scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAgent:
		return ScopeAgent, nil
	case ScopeShared:
		return ScopeShared, nil
	}
	return "", types.NewValidationError("scope", "must be %q or %q, got %q", ScopeAgent, ScopeShared, s)
}

// Entry is one scratch value.
type Entry struct {
	Key         string    `json:"key"`
	Scope       Scope     `json:"scope"`
	Owner       string    `json:"owner"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	Size        int       `json:"size"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e *Entry) id() string {
	return entryID(e.Scope, e.Owner, e.Key)
}

func entryID(scope Scope, owner, key string) string {
	if scope == ScopeShared {
		owner = sharedOwner
	}
	return string(scope) + "/" + owner + "/" + key
}

func storageKey(scope Scope, owner, key string) []string {
	if scope == ScopeShared {
		owner = sharedOwner
	}
	return []string{"scratch", string(scope), owner, key}
}

// Store holds scratch entries in memory, optionally mirrored to storage.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	storage *storage.Storage
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a store. A nil storage keeps everything in memory.
func New(store *storage.Storage) *Store {
	return &Store{
		entries: make(map[string]*Entry),
		storage: store,
		now:     time.Now,
		log:     logging.Component("scratch"),
	}
}

// Load reads persisted shared entries. Agent-scoped entries come back with
// their agent through Restore.
func (s *Store) Load(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	var loaded []*Entry
	err := s.storage.Scan(ctx, []string{"scratch", string(ScopeShared), sharedOwner}, func(name string, data json.RawMessage) error {
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			s.log.Warn().Err(err).Str("key", name).Msg("skipping unreadable scratch entry")
			return nil
		}
		e.Scope, e.Key = ScopeShared, name
		loaded = append(loaded, &e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load scratch: %w", err)
	}

	s.mu.Lock()
	for _, e := range loaded {
		s.entries[e.id()] = e
	}
	s.mu.Unlock()
	return nil
}

func validateKey(key string) error {
	switch {
	case key == "":
		return types.NewValidationError("key", "must not be empty")
	case len(key) > MaxKeyLength:
		return types.NewValidationError("key", "longer than %d characters", MaxKeyLength)
	case key == "." || key == ".." || strings.ContainsAny(key, "/\\\n"):
		return types.NewValidationError("key", "invalid key %q", key)
	}
	return nil
}

// Put creates or replaces an entry and returns the stored copy.
func (s *Store) Put(ctx context.Context, owner string, scope Scope, key, value, description string) (Entry, error) {
	if err := validateKey(key); err != nil {
		return Entry{}, err
	}
	if len(value) > MaxValueSize {
		return Entry{}, types.NewValidationError("value", "larger than %d bytes", MaxValueSize)
	}

	s.mu.Lock()
	id := entryID(scope, owner, key)
	prev, exists := s.entries[id]
	if !exists && len(s.entries) >= MaxEntries {
		s.mu.Unlock()
		return Entry{}, types.NewValidationError("key", "scratch storage is full (%d entries)", MaxEntries)
	}

	e := &Entry{
		Key:         key,
		Scope:       scope,
		Owner:       owner,
		Value:       value,
		Description: description,
		Size:        len(value),
		Version:     1,
		UpdatedAt:   s.now(),
	}
	if exists {
		e.Version = prev.Version + 1
		if description == "" {
			e.Description = prev.Description
		}
	}
	s.entries[id] = e
	out := *e
	s.mu.Unlock()

	if s.storage != nil {
		if err := s.storage.Put(ctx, storageKey(scope, owner, key), out); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("scratch entry not persisted")
		}
	}

	s.log.Debug().Str("agent", owner).Str("key", key).Str("scope", string(scope)).Int("version", out.Version).Msg("scratch put")
	return out, nil
}

// Get returns the entry visible to owner under key. The agent's own entry
// shadows a shared entry with the same key.
func (s *Store) Get(owner, key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[entryID(ScopeAgent, owner, key)]; ok {
		return *e, true
	}
	if e, ok := s.entries[entryID(ScopeShared, owner, key)]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Delete removes an entry. Missing entries are reported as not found.
func (s *Store) Delete(ctx context.Context, owner string, scope Scope, key string) error {
	s.mu.Lock()
	id := entryID(scope, owner, key)
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !ok {
		return &types.NotFoundError{Kind: "scratch entry", ID: key}
	}
	if s.storage != nil {
		return s.storage.Delete(ctx, storageKey(scope, owner, key))
	}
	return nil
}

// List returns every entry visible to owner, sorted by scope then key.
func (s *Store) List(owner string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Scope == ScopeShared || e.Owner == owner {
			out = append(out, *e)
		}
	}
	sortEntries(out)
	return out
}

// ForAgent returns only the agent-scoped entries of owner.
func (s *Store) ForAgent(owner string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Scope == ScopeAgent && e.Owner == owner {
			out = append(out, *e)
		}
	}
	sortEntries(out)
	return out
}

// DropAgent removes the agent-scoped entries of owner and returns how many
// were removed. Shared entries the agent wrote stay.
func (s *Store) DropAgent(ctx context.Context, owner string) int {
	s.mu.Lock()
	var dropped []string
	for id, e := range s.entries {
		if e.Scope == ScopeAgent && e.Owner == owner {
			dropped = append(dropped, e.Key)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	if s.storage != nil {
		for _, key := range dropped {
			if err := s.storage.Delete(ctx, storageKey(ScopeAgent, owner, key)); err != nil {
				s.log.Warn().Err(err).Str("agent", owner).Str("key", key).Msg("scratch entry not deleted")
			}
		}
	}
	return len(dropped)
}

// Restore replaces the agent-scoped entries of owner with entries from a
// snapshot. Entries are re-owned by owner regardless of what they carry.
func (s *Store) Restore(ctx context.Context, owner string, entries []Entry) error {
	for _, e := range entries {
		if err := validateKey(e.Key); err != nil {
			return err
		}
	}

	s.DropAgent(ctx, owner)

	s.mu.Lock()
	restored := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Owner, e.Scope, e.Size = owner, ScopeAgent, len(e.Value)
		if e.Version == 0 {
			e.Version = 1
		}
		cp := e
		s.entries[cp.id()] = &cp
		restored = append(restored, cp)
	}
	s.mu.Unlock()

	if s.storage != nil {
		for _, e := range restored {
			if err := s.storage.Put(ctx, storageKey(ScopeAgent, owner, e.Key), e); err != nil {
				return fmt.Errorf("persist scratch entry %s: %w", e.Key, err)
			}
		}
	}
	return nil
}

// Index renders the entries visible to owner as a prompt section, or "" when
// there are none.
func (s *Store) Index(owner string) string {
	entries := s.List(owner)
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Scratch storage\n")
	sb.WriteString("Read values with scratch_get.\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s (%s, %d bytes)", e.Key, e.Scope, e.Size)
		if e.Description != "" {
			sb.WriteString(": " + e.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Scope != entries[j].Scope {
			return entries[i].Scope < entries[j].Scope
		}
		return entries[i].Key < entries[j].Key
	})
}
