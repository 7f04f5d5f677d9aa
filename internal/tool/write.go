package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/editor"
	"github.com/opencode-ai/agentpool/internal/permission"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- filePath may be absolute or relative to the working directory
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct{}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool() *WriteTool {
	return &WriteTool{}
}

func (t *WriteTool) ID() string          { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionWrite, PathArgs: []string{"filePath"}}
}

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if err := required("filePath", params.FilePath); err != nil {
		return nil, err
	}

	path := toolCtx.Resolve(params.FilePath)
	before := ""
	if data, err := os.ReadFile(path); err == nil {
		before = string(data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	patch := editor.BuildPatch(path, before, params.Content, toolCtx.WorkDir)
	return &Result{
		Title:  fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), path),
		Metadata: map[string]any{
			"file":      path,
			"bytes":     len(params.Content),
			"diff":      patch.Text,
			"additions": patch.Additions,
			"deletions": patch.Deletions,
		},
	}, nil
}

func (t *WriteTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
