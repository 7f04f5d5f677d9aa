package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/permission"
)

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time, newest first
- Use this tool when you need to find files by name patterns`

const maxGlobResults = 100

// GlobTool implements file pattern matching.
type GlobTool struct{}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool() *GlobTool {
	return &GlobTool{}
}

func (t *GlobTool) ID() string          { return "glob" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionRead, PathArgs: []string{"path"}}
}

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

type globMatch struct {
	path    string
	modTime int64
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if err := required("pattern", params.Pattern); err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", params.Pattern)
	}

	searchDir := toolCtx.Resolve(params.Path)
	var matches []globMatch

	err := filepath.WalkDir(searchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != searchDir && shouldIgnore(d.Name(), true, defaultIgnorePatterns) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(searchDir, path)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(params.Pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}
		var mod int64
		if info, err := os.Stat(path); err == nil {
			mod = info.ModTime().UnixNano()
		}
		matches = append(matches, globMatch{path: path, modTime: mod})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &Result{
			Title:    "Glob search",
			Output:   "No files matched the pattern",
			Metadata: map[string]any{"pattern": params.Pattern, "count": 0},
		}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].modTime > matches[j].modTime })

	truncated := len(matches) > maxGlobResults
	if truncated {
		matches = matches[:maxGlobResults]
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}

	output := strings.Join(paths, "\n")
	if truncated {
		output += fmt.Sprintf("\n\n(Showing the first %d matches)", maxGlobResults)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %s", pluralize(len(paths), "file")),
		Output: output,
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(paths),
			"truncated": truncated,
		},
	}, nil
}

func (t *GlobTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
