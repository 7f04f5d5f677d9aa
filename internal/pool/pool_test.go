package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/scratch"
	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/internal/storage"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// echoModel answers every turn with the last user message, prefixed.
type echoModel struct {
	mu    sync.Mutex
	calls int
}

func (m *echoModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			return schema.AssistantMessage("re: "+input[i].Content, nil), nil
		}
	}
	return schema.AssistantMessage("nothing to answer", nil), nil
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *echoModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	return Options{
		Presets: agent.NewRegistry(),
		Tools:   tool.DefaultRegistry(tool.Options{}),
		Model:   &echoModel{},
		Prompt: prompt.Options{
			Home:           t.TempDir(),
			Candidates:     []prompt.Candidate{},
			SystemDefaults: "You are a test agent.",
		},
		InjectScratch: true,
		Bus:           bus,
	}
}

func newTestPool(t *testing.T, mutate ...func(*Options)) *Pool {
	t.Helper()
	opts := testOptions(t)
	for _, fn := range mutate {
		fn(&opts)
	}
	p, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func TestCreate(t *testing.T) {
	p := newTestPool(t)
	dir := t.TempDir()

	sess, err := p.Create(context.Background(), CreateRequest{ID: "a1", Preset: agent.PresetTrusted, Cwd: dir})
	require.NoError(t, err)
	assert.Equal(t, "a1", sess.ID())

	got, ok := p.Get("a1")
	require.True(t, ok)
	assert.Same(t, sess, got)

	st, err := p.Status("a1")
	require.NoError(t, err)
	assert.Equal(t, agent.PresetTrusted, st.Preset)
	assert.Equal(t, session.StateIdle, st.State)
}

func TestCreate_GeneratesID(t *testing.T) {
	p := newTestPool(t)

	sess, err := p.Create(context.Background(), CreateRequest{Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID(), "agent-"))
	assert.Equal(t, agent.PresetSandboxed, sess.Permissions().Preset)
}

func TestCreate_FailuresLeaveNothingBehind(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	p := newTestPool(t, func(o *Options) { o.AllowedRoots = []string{root} })

	tests := []struct {
		name   string
		req    CreateRequest
		target error
	}{
		{"bad id", CreateRequest{ID: "../etc", Cwd: root}, nil},
		{"relative cwd", CreateRequest{ID: "a1", Cwd: "work"}, nil},
		{"cwd is a file", CreateRequest{ID: "a1", Cwd: file}, nil},
		{"missing cwd", CreateRequest{ID: "a1", Cwd: filepath.Join(root, "nope")}, nil},
		{"bad preset name", CreateRequest{ID: "a1", Preset: "two words", Cwd: root}, nil},
		{"own parent", CreateRequest{ID: "a1", ParentID: "a1", Cwd: root}, nil},
		{"unknown parent", CreateRequest{ID: "a1", ParentID: "ghost", Cwd: root}, types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Create(context.Background(), tt.req)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			} else {
				var vErr *types.ValidationError
				assert.ErrorAs(t, err, &vErr)
			}
			assert.Equal(t, 0, p.Len())
		})
	}

	t.Run("outside allowed roots", func(t *testing.T) {
		_, err := p.Create(context.Background(), CreateRequest{ID: "a1", Cwd: outside})
		var denied *types.PermissionDeniedError
		require.ErrorAs(t, err, &denied)
		assert.Contains(t, denied.Reason, "outside the allowed roots")
		assert.Equal(t, 0, p.Len())
	})
}

func TestCreate_UnknownPresetFallsBackToSandboxed(t *testing.T) {
	p := newTestPool(t)

	sess, err := p.Create(context.Background(), CreateRequest{ID: "a1", Preset: "legacy-admin", Cwd: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, agent.PresetSandboxed, sess.Permissions().Preset)
}

func TestCreate_Duplicate(t *testing.T) {
	p := newTestPool(t)
	dir := t.TempDir()
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "a1", Cwd: dir})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "a1", Cwd: dir})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestCreate_LinksParent(t *testing.T) {
	p := newTestPool(t)
	dir := t.TempDir()
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "root", Preset: agent.PresetTrusted, Cwd: dir})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "c1", Cwd: dir, ParentID: "root"})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "c2", Cwd: dir, ParentID: "root"})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2"}, p.ChildIDs("root"))
	assert.Equal(t, "root", p.ParentID("c1"))
	assert.Equal(t, "", p.ParentID("root"))
}

func TestDestroy(t *testing.T) {
	p := newTestPool(t)
	dir := t.TempDir()
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "root", Cwd: dir})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "mid", Cwd: dir, ParentID: "root"})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "leaf", Cwd: dir, ParentID: "mid"})
	require.NoError(t, err)

	_, err = p.opts.Scratch.Put(ctx, "mid", scratch.ScopeAgent, "notes", "x", "")
	require.NoError(t, err)

	require.NoError(t, p.Destroy(ctx, "mid"))

	_, ok := p.Get("mid")
	assert.False(t, ok)
	assert.Empty(t, p.ChildIDs("root"))
	assert.Equal(t, "", p.ParentID("leaf"), "orphaned child loses its parent reference")
	assert.Empty(t, p.opts.Scratch.ForAgent("mid"))

	assert.ErrorIs(t, p.Destroy(ctx, "mid"), types.ErrNotFound)
	_, err = p.Send(ctx, "mid", "hello")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSend(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "a1", Cwd: t.TempDir()})
	require.NoError(t, err)

	res, err := p.Send(ctx, "a1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "re: hello", res.Content)

	st, err := p.Status("a1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Turns)
	assert.Equal(t, 2, st.Messages)

	_, err = p.Send(ctx, "ghost", "hello")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = p.Cancel("ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)

	cancelled, err := p.Cancel("a1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestSaveAndLoad(t *testing.T) {
	store := storage.New(t.TempDir())
	p := newTestPool(t, func(o *Options) {
		o.Storage = store
		o.Scratch = scratch.New(store)
	})
	ctx := context.Background()
	dir := t.TempDir()

	_, err := p.Create(ctx, CreateRequest{ID: "a1", Preset: agent.PresetTrusted, Cwd: dir})
	require.NoError(t, err)
	_, err = p.Send(ctx, "a1", "remember this")
	require.NoError(t, err)
	_, err = p.opts.Scratch.Put(ctx, "a1", scratch.ScopeAgent, "plan", "step 1", "current plan")
	require.NoError(t, err)

	snap, err := p.Save(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, snap.History, 2)
	assert.Len(t, snap.Scratch, 1)

	require.NoError(t, p.Destroy(ctx, "a1"))
	assert.Empty(t, p.opts.Scratch.ForAgent("a1"))

	sess, err := p.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, sess.History(), 2)
	assert.Equal(t, agent.PresetTrusted, sess.Permissions().Preset)

	entry, ok := p.opts.Scratch.Get("a1", "plan")
	require.True(t, ok)
	assert.Equal(t, "step 1", entry.Value)

	_, err = p.Load(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSave_WithoutStorage(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Create(context.Background(), CreateRequest{ID: "a1", Cwd: t.TempDir()})
	require.NoError(t, err)

	_, err = p.Save(context.Background(), "a1")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)
}

func TestPersistAfterTurn(t *testing.T) {
	store := storage.New(t.TempDir())
	p := newTestPool(t, func(o *Options) {
		o.Storage = store
		o.Persist = true
	})
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "a1", Cwd: t.TempDir()})
	require.NoError(t, err)
	_, err = p.Send(ctx, "a1", "hi")
	require.NoError(t, err)

	var snap session.Snapshot
	require.NoError(t, store.Get(ctx, snapshotKey("a1"), &snap))
	assert.Len(t, snap.History, 2)
}

func TestRestore(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	dir := t.TempDir()
	preset, err := agent.NewRegistry().Get(agent.PresetSandboxed)
	require.NoError(t, err)

	snap := &session.Snapshot{
		Version:     session.SnapshotVersion,
		ID:          "a1",
		Preset:      agent.PresetSandboxed,
		Cwd:         dir,
		ParentID:    "gone",
		Permissions: preset.Instantiate(dir, "gone"),
		History: []*schema.Message{
			schema.UserMessage("hi"),
			schema.AssistantMessage("hello", nil),
		},
		Inbox: []session.InboxMessage{{From: "gone", Content: "are you there?"}},
	}

	sess, err := p.Restore(ctx, snap)
	require.NoError(t, err)
	assert.Len(t, sess.History(), 2)
	assert.Equal(t, "gone", sess.ParentID(), "restore keeps relationships as saved")
	assert.Equal(t, 1, sess.Status().Inbox)

	_, err = p.Restore(ctx, snap)
	assert.ErrorIs(t, err, types.ErrAlreadyExists)

	bad := *snap
	bad.ID = "a2"
	bad.History = []*schema.Message{schema.ToolMessage("orphan", "c1")}
	_, err = p.Restore(ctx, &bad)
	var vErr *types.ValidationError
	assert.ErrorAs(t, err, &vErr)
	_, ok := p.Get("a2")
	assert.False(t, ok)
}

func TestCompact_ThroughPool(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "a1", Cwd: t.TempDir()})
	require.NoError(t, err)
	for _, msg := range []string{"one", "two", "three"} {
		_, err := p.Send(ctx, "a1", msg)
		require.NoError(t, err)
	}

	res, err := p.Compact(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 6, res.Before)
	assert.Less(t, res.After, res.Before)
}

func TestSpawn_ChecksRank(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := p.Create(ctx, CreateRequest{ID: "root", Preset: agent.PresetTrusted, Cwd: dir})
	require.NoError(t, err)
	caps := &agentsCapability{pool: p}

	_, err = caps.Spawn(ctx, "root", tool.SpawnRequest{ID: "c1", Preset: agent.PresetYolo})
	var denied *types.PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, denied.Reason, "more trusted")

	info, err := caps.Spawn(ctx, "root", tool.SpawnRequest{ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, agent.PresetSandboxed, info.Preset)
	assert.Equal(t, dir, info.Cwd)
	assert.Equal(t, "root", info.ParentID)

	err = caps.Destroy(ctx, "c1", "c1")
	var vErr *types.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestAgentsCapability_ListsWholePool(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := p.Create(ctx, CreateRequest{ID: "root", Preset: agent.PresetTrusted, Cwd: dir})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "c1", Cwd: dir, ParentID: "root"})
	require.NoError(t, err)
	_, err = p.Create(ctx, CreateRequest{ID: "stranger", Cwd: dir})
	require.NoError(t, err)

	infos := (&agentsCapability{pool: p}).List()
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
		if info.ID == "root" {
			assert.Equal(t, []string{"c1"}, info.Children)
		}
	}
	assert.ElementsMatch(t, []string{"root", "c1", "stranger"}, ids)
}

func TestSpawn_TaskReplyReachesParent(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	_, err := p.Create(ctx, CreateRequest{ID: "root", Preset: agent.PresetTrusted, Cwd: t.TempDir()})
	require.NoError(t, err)
	caps := &agentsCapability{pool: p}

	_, err = caps.Spawn(ctx, "root", tool.SpawnRequest{ID: "worker", Task: "count files"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st, err := p.Status("root")
		return err == nil && st.Inbox == 1
	}, 2*time.Second, 10*time.Millisecond)

	res, err := p.Send(ctx, "root", "")
	require.NoError(t, err)
	assert.Equal(t, "re: Message from agent worker:\nre: count files", res.Content)
}

func TestKeyedLocks(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	unlock, err := locks.lock(ctx, "b", "a", "a")
	require.NoError(t, err)

	// A different id is not blocked.
	other, err := locks.lock(ctx, "c")
	require.NoError(t, err)
	other()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(short, "c", "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := locks.lock(ctx, "a", "b")
	require.NoError(t, err)
	again()

	locks.mu.Lock()
	assert.Empty(t, locks.locks, "lock entries are released")
	locks.mu.Unlock()
}
