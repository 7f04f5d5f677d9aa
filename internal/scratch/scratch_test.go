package scratch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentpool/internal/storage"
	"github.com/opencode-ai/agentpool/pkg/types"
)

func TestPutGet_Scopes(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, err := s.Put(ctx, "a1", ScopeAgent, "plan", "mine", "a1's plan")
	require.NoError(t, err)
	_, err = s.Put(ctx, "a2", ScopeShared, "plan", "everyone", "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "a2", ScopeShared, "notes", "shared notes", "")
	require.NoError(t, err)

	e, ok := s.Get("a1", "plan")
	require.True(t, ok)
	assert.Equal(t, "mine", e.Value, "own entry shadows shared")

	e, ok = s.Get("a3", "plan")
	require.True(t, ok)
	assert.Equal(t, "everyone", e.Value)

	_, ok = s.Get("a3", "missing")
	assert.False(t, ok)

	assert.Len(t, s.List("a1"), 3)
	assert.Len(t, s.List("a3"), 2)
	assert.Len(t, s.ForAgent("a1"), 1)
}

func TestPut_VersionsAndValidation(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	e, err := s.Put(ctx, "a1", ScopeAgent, "k", "v1", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)

	e, err = s.Put(ctx, "a1", ScopeAgent, "k", "v22", "")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Version)
	assert.Equal(t, 3, e.Size)
	assert.Equal(t, "first", e.Description, "description is kept when not replaced")

	var verr *types.ValidationError
	_, err = s.Put(ctx, "a1", ScopeAgent, "", "v", "")
	assert.ErrorAs(t, err, &verr)
	_, err = s.Put(ctx, "a1", ScopeAgent, "a/b", "v", "")
	assert.ErrorAs(t, err, &verr)
	_, err = s.Put(ctx, "a1", ScopeAgent, "big", strings.Repeat("x", MaxValueSize+1), "")
	assert.ErrorAs(t, err, &verr)
}

func TestDropAgentAndRestore(t *testing.T) {
	ctx := context.Background()
	store := storage.New(t.TempDir())
	s := New(store)

	_, err := s.Put(ctx, "a1", ScopeAgent, "k1", "v1", "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "a1", ScopeShared, "k2", "v2", "")
	require.NoError(t, err)

	saved := s.ForAgent("a1")
	assert.Equal(t, 1, s.DropAgent(ctx, "a1"))
	assert.Empty(t, s.ForAgent("a1"))
	assert.False(t, store.Exists(ctx, storageKey(ScopeAgent, "a1", "k1")))

	_, ok := s.Get("a1", "k2")
	assert.True(t, ok, "shared entries survive the writer")

	saved[0].Owner = "someone-else"
	require.NoError(t, s.Restore(ctx, "a1", saved))
	e, ok := s.Get("a1", "k1")
	require.True(t, ok)
	assert.Equal(t, "a1", e.Owner)
	assert.Equal(t, "v1", e.Value)
}

func TestLoad_SharedEntries(t *testing.T) {
	ctx := context.Background()
	store := storage.New(t.TempDir())

	first := New(store)
	_, err := first.Put(ctx, "a1", ScopeShared, "handoff", "done", "status")
	require.NoError(t, err)

	second := New(store)
	require.NoError(t, second.Load(ctx))
	e, ok := second.Get("a9", "handoff")
	require.True(t, ok)
	assert.Equal(t, "done", e.Value)
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	assert.Empty(t, s.Index("a1"))

	_, _ = s.Put(ctx, "a1", ScopeAgent, "todo", "abc", "open items")
	_, _ = s.Put(ctx, "a2", ScopeShared, "api", "12345", "")

	idx := s.Index("a1")
	assert.Contains(t, idx, "## Scratch storage")
	assert.Contains(t, idx, "- todo (agent, 3 bytes): open items")
	assert.Contains(t, idx, "- api (shared, 5 bytes)")
	assert.Less(t, strings.Index(idx, "todo"), strings.Index(idx, "api"))
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeAgent, s)

	s, err = ParseScope("Shared")
	require.NoError(t, err)
	assert.Equal(t, ScopeShared, s)

	_, err = ParseScope("global")
	assert.Error(t, err)
}
