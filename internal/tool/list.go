package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/permission"
)

const listDescription = `Lists files and directories in a specified path.

Usage:
- Returns file names, types (file/directory), and sizes
- path defaults to the working directory
- Useful for exploring directory structure`

// ListTool implements directory listing.
type ListTool struct{}

// ListInput represents the input for the list tool.
type ListInput struct {
	Path   string   `json:"path,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
}

// defaultIgnorePatterns are directories skipped by list, glob and grep.
var defaultIgnorePatterns = []string{
	"node_modules/",
	"__pycache__/",
	".git/",
	"dist/",
	"build/",
	"target/",
	"vendor/",
	".idea/",
	".vscode/",
	".cache/",
	".venv/",
	"venv/",
}

// NewListTool creates a new list tool.
func NewListTool() *ListTool {
	return &ListTool{}
}

func (t *ListTool) ID() string          { return "list" }
func (t *ListTool) Description() string { return listDescription }

func (t *ListTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionRead, PathArgs: []string{"path"}}
}

func (t *ListTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The directory to list (default: working directory)"
			},
			"ignore": {
				"type": "array",
				"items": {"type": "string"},
				"description": "List of glob patterns to ignore"
			}
		}
	}`)
}

// FileEntry represents a file or directory entry.
type FileEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ListInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}

	listPath := toolCtx.Resolve(params.Path)
	ignorePatterns := append(append([]string{}, defaultIgnorePatterns...), params.Ignore...)

	entries, err := os.ReadDir(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []FileEntry
	for _, entry := range entries {
		if shouldIgnore(entry.Name(), entry.IsDir(), ignorePatterns) {
			continue
		}
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, FileEntry{Name: entry.Name(), IsDirectory: entry.IsDir(), Size: size})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].IsDirectory != files[j].IsDirectory {
			return files[i].IsDirectory
		}
		return files[i].Name < files[j].Name
	})

	var sb strings.Builder
	for _, f := range files {
		if f.IsDirectory {
			fmt.Fprintf(&sb, "[dir ] %s\n", f.Name)
		} else {
			fmt.Fprintf(&sb, "[file] %s (%d bytes)\n", f.Name, f.Size)
		}
	}

	return &Result{
		Title:  fmt.Sprintf("Listed %s", pluralize(len(files), "item")),
		Output: sb.String(),
		Metadata: map[string]any{
			"path":  listPath,
			"count": len(files),
		},
	}, nil
}

func (t *ListTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// shouldIgnore reports whether name matches an ignore pattern. Patterns
// ending in "/" only match directories.
func shouldIgnore(name string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if dirPattern, ok := strings.CutSuffix(pattern, "/"); ok {
			if isDir {
				if matched, _ := doublestar.Match(dirPattern, name); matched {
					return true
				}
			}
			continue
		}
		if matched, _ := doublestar.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
