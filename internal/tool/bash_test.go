package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashTool_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	toolCtx, _ := testContext(t, dir)

	res, err := run(t, NewBashTool(""), toolCtx, `{"command": "pwd && echo hi >&2", "description": "where am i"}`)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, res.Output, want)
	assert.Contains(t, res.Output, "hi")
	assert.Equal(t, 0, res.Metadata["exit"])
	assert.Equal(t, "where am i", res.Title)
}

func TestBashTool_ExitCode(t *testing.T) {
	toolCtx, _ := testContext(t, t.TempDir())

	res, err := run(t, NewBashTool(""), toolCtx, `{"command": "exit 3"}`)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Metadata["exit"])
}

func TestBashTool_Timeout(t *testing.T) {
	toolCtx, _ := testContext(t, t.TempDir())

	start := time.Now()
	res, err := run(t, NewBashTool(""), toolCtx, `{"command": "sleep 5", "timeout": 100}`)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestBashTool_CancelKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	toolCtx, _ := testContext(t, dir)
	marker := filepath.Join(dir, "late")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	input, _ := json.Marshal(BashInput{Command: "(sleep 1 && touch " + marker + ") & wait"})
	res, err := NewBashTool("").Execute(ctx, input, toolCtx)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "cancelled")

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "background child survived cancellation")
}

func TestBashTool_RequiresCommand(t *testing.T) {
	toolCtx, _ := testContext(t, t.TempDir())
	_, err := run(t, NewBashTool(""), toolCtx, `{"command": "  "}`)
	assert.Error(t, err)
}
