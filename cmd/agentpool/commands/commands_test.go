package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/pkg/types"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("AGENTPOOL_CONFIG_DIR", "")
	t.Setenv("AGENTPOOL_CONFIG", "")
	t.Setenv("AGENTPOOL_CONFIG_CONTENT", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"-C", home, "--env-file", filepath.Join(home, "missing.env")}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		presetsJSON = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agentpool "+Version+" ("+BuildTime+")\n", out)
}

func TestPresets_List(t *testing.T) {
	out, err := runCLI(t, "presets", "--json")
	require.NoError(t, err)

	var presets []agent.Preset
	require.NoError(t, json.Unmarshal([]byte(out), &presets))
	var names []string
	for _, p := range presets {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{agent.PresetSandboxed, agent.PresetTrusted, agent.PresetYolo}, names)
}

func TestPresets_One(t *testing.T) {
	out, err := runCLI(t, "presets", "trusted")
	require.NoError(t, err)
	assert.Contains(t, out, "trusted (rank 20)")
	assert.NotContains(t, out, "sandboxed (rank")

	_, err = runCLI(t, "presets", "ghost")
	assert.Error(t, err)
}

func TestPresets_ProjectConfig(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "agentpool.json"), []byte(`{
		"presets": {"reviewer": {"base": "trusted", "description": "reads only"}}
	}`), 0644))

	out, err := runCLI(t, "-C", home, "presets", "reviewer")
	require.NoError(t, err)
	assert.Contains(t, out, "reviewer (rank 21): reads only")
}

func TestPromptOptions(t *testing.T) {
	opts := promptOptions(types.ContextConfig{Strategy: "middle-out", Tokenizer: "tiktoken", Budget: 4000})
	assert.Equal(t, prompt.MiddleOut, opts.Strategy)
	assert.IsType(t, &prompt.TiktokenEstimator{}, opts.Estimator)
	assert.Equal(t, 4000, opts.Budget)
	assert.True(t, opts.StopAtGitRoot)

	opts = promptOptions(types.ContextConfig{})
	assert.Equal(t, prompt.OldestFirst, opts.Strategy)
	assert.IsType(t, prompt.HeuristicEstimator{}, opts.Estimator)
}

func TestLoadConfig_RejectsBadContextValues(t *testing.T) {
	for _, content := range []string{
		`{"context": {"strategy": "newest-first"}}`,
		`{"context": {"tokenizer": "bpe"}}`,
	} {
		t.Run(content, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("HOME", home)
			t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
			t.Setenv("AGENTPOOL_CONFIG_DIR", "")
			t.Setenv("AGENTPOOL_CONFIG", "")
			t.Setenv("AGENTPOOL_CONFIG_CONTENT", content)

			_, _, err := loadConfig(home)
			var cerr *types.ConfigError
			require.ErrorAs(t, err, &cerr)
		})
	}
}
