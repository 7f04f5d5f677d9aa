package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

func TestNewRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"sandboxed", "trusted", "yolo"}, r.Names())
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, PresetSandboxed, list[0].Name)
	assert.Equal(t, PresetYolo, list[2].Name)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()

	p, err := r.Get(PresetSandboxed)
	require.NoError(t, err)
	p.Tools["bash"].Enabled = true

	again, err := r.Get(PresetSandboxed)
	require.NoError(t, err)
	assert.False(t, again.Tools["bash"].Enabled, "presets are immutable templates")

	_, err = r.Get("missing")
	assert.True(t, types.IsNotFound(err))
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()

	p, err := r.Resolve(PresetTrusted)
	require.NoError(t, err)
	assert.Equal(t, PresetTrusted, p.Name)

	// Unknown but well-formed falls back to sandboxed, never upgrades.
	p, err = r.Resolve("trustd")
	require.NoError(t, err)
	assert.Equal(t, PresetSandboxed, p.Name)

	for _, bad := range []string{"", "   ", "../yolo", "has space", "a\\b"} {
		_, err := r.Resolve(bad)
		var verr *types.ValidationError
		assert.True(t, errors.As(err, &verr), "name %q", bad)
	}
}

func TestPreset_Instantiate(t *testing.T) {
	r := NewRegistry()
	cwd := t.TempDir()
	home, _ := os.UserHomeDir()

	p, err := r.Get(PresetTrusted)
	require.NoError(t, err)
	perms := p.Instantiate(cwd, "parent-1")

	assert.Equal(t, PresetTrusted, perms.Preset)
	assert.Equal(t, "parent-1", perms.ParentAgentID)
	assert.Equal(t, []string{filepath.Clean(cwd), filepath.Clean(home), filepath.Clean(os.TempDir())}, perms.Tools["read"].AllowedPaths)
	assert.True(t, perms.Tools["write"].NeedsConfirmation())
	assert.Equal(t, permission.TargetFamily, perms.Tools["send_message"].AllowedTargets.Kind)

	// The instance is independent from the template.
	perms.Tools["read"].AllowedPaths = nil
	again, _ := r.Get(PresetTrusted)
	assert.Equal(t, []string{PlaceholderCwd, PlaceholderHome, PlaceholderTmp}, again.Tools["read"].AllowedPaths)
}

func TestTrusted_SpawnConfinedToPaths(t *testing.T) {
	cwd := t.TempDir()
	perms := trusted().Instantiate(cwd, "")

	spawn := perms.Tools["spawn_agent"]
	assert.Equal(t, perms.Tools["bash"].AllowedPaths, spawn.AllowedPaths)
	assert.True(t, spawn.NeedsConfirmation())

	enf := permission.NewEnforcer(permission.Catalog{
		"spawn_agent": {Action: permission.ActionManage, PathArgs: []string{"cwd"}},
	}, cwd)
	call := func(dir string) permission.Decision {
		return enf.Check(permission.ToolCall{Name: "spawn_agent", Args: map[string]any{"cwd": dir}}, perms)
	}

	assert.True(t, call(filepath.Join(cwd, "child")).Allowed)
	d := call("/etc")
	assert.False(t, d.Allowed)
	assert.Equal(t, permission.CheckPath, d.Check)
}

func TestSandboxed_Policy(t *testing.T) {
	cwd := t.TempDir()
	perms := sandboxed().Instantiate(cwd, "")

	for _, tool := range []string{"bash", "webfetch", "spawn_agent", "destroy_agent", "list_agents"} {
		assert.False(t, perms.Tools[tool].Enabled, tool)
	}
	assert.Equal(t, []string{cwd}, perms.Tools["write"].AllowedPaths)
	assert.Equal(t, permission.TargetParentOnly, perms.Tools["send_message"].AllowedTargets.Kind)
}

func TestRegistry_Load(t *testing.T) {
	r := NewRegistry()
	err := r.Load("agentpool.json", map[string]types.PresetConfig{
		"reviewer": {
			Base: "ci",
			Tools: map[string]types.ToolPolicyConfig{
				"write": {Enabled: boolPtr(false)},
			},
		},
		"ci": {
			Description: "CI runner",
			Tools: map[string]types.ToolPolicyConfig{
				"bash": {
					Enabled:         boolPtr(true),
					AllowedCommands: []string{"go test *"},
					Timeout:         "5m",
				},
				"send_message": {AllowedTargets: []any{"lead"}},
			},
		},
	})
	require.NoError(t, err)

	ci, err := r.Get("ci")
	require.NoError(t, err)
	assert.Equal(t, PresetSandboxed, ci.Base)
	assert.Equal(t, 11, ci.Rank)
	assert.True(t, ci.Tools["bash"].Enabled)
	assert.Equal(t, 5*time.Minute, ci.Tools["bash"].Timeout)
	assert.Equal(t, []string{"go test *"}, ci.Tools["bash"].AllowedCommands)
	assert.Equal(t, permission.TargetExplicit, ci.Tools["send_message"].AllowedTargets.Kind)
	assert.Equal(t, []string{PlaceholderCwd}, ci.Tools["read"].AllowedPaths, "untouched tools keep the base entry")

	reviewer, err := r.Get("reviewer")
	require.NoError(t, err)
	assert.Equal(t, "ci", reviewer.Base)
	assert.Equal(t, 12, reviewer.Rank)
	assert.True(t, reviewer.Tools["bash"].Enabled)
	assert.False(t, reviewer.Tools["write"].Enabled)
}

func TestRegistry_LoadErrors(t *testing.T) {
	tests := map[string]map[string]types.PresetConfig{
		"unknown base": {"x": {Base: "nope"}},
		"cycle":        {"a": {Base: "b"}, "b": {Base: "a"}},
		"bad timeout":  {"x": {Tools: map[string]types.ToolPolicyConfig{"bash": {Timeout: "soon"}}}},
		"builtin name": {"yolo": {}},
	}

	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			err := NewRegistry().Load("presets.yaml", cfg)
			var cerr *types.ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, "presets.yaml", cerr.Path)
		})
	}
}

func TestRegistry_CheckSpawn(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load("cfg", map[string]types.PresetConfig{"custom": {}}))

	assert.NoError(t, r.CheckSpawn(PresetTrusted, PresetSandboxed))
	assert.NoError(t, r.CheckSpawn(PresetTrusted, "custom"))
	assert.NoError(t, r.CheckSpawn(PresetYolo, PresetYolo))

	err := r.CheckSpawn(PresetSandboxed, PresetTrusted)
	var denied *types.PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "spawn_agent", denied.Tool)

	assert.Error(t, r.CheckSpawn("custom", PresetTrusted))
}

func TestDescribe(t *testing.T) {
	p, _ := NewRegistry().Get(PresetTrusted)
	out := Describe(p)
	assert.Contains(t, out, "trusted (rank 20)")
	assert.Contains(t, out, "destroy_agent")
	assert.Contains(t, out, "targets=children")
	assert.Contains(t, out, "confirm")
}

func boolPtr(b bool) *bool { return &b }
