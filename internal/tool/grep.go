package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

const grepDescription = `Searches file contents using regular expressions.

Usage:
- Supports Go regular expression syntax
- Filter files with the include parameter (e.g. "*.go", "**/*.{ts,tsx}")
- Returns matching lines with file paths and line numbers`

const (
	maxGrepMatches  = 100
	maxGrepFileSize = 4 * 1024 * 1024
)

// GrepTool implements content search.
type GrepTool struct{}

// GrepInput represents the input for the grep tool.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

// NewGrepTool creates a new grep tool.
func NewGrepTool() *GrepTool {
	return &GrepTool{}
}

func (t *GrepTool) ID() string          { return "grep" }
func (t *GrepTool) Description() string { return grepDescription }

func (t *GrepTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionRead, PathArgs: []string{"path"}}
}

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for"
			},
			"path": {
				"type": "string",
				"description": "File or directory to search in (default: working directory)"
			},
			"include": {
				"type": "string",
				"description": "File pattern to include (e.g. \"*.js\")"
			}
		},
		"required": ["pattern"]
	}`)
}

// GrepMatch represents a search match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GrepInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if err := required("pattern", params.Pattern); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return nil, types.NewValidationError("pattern", "invalid regular expression: %v", err)
	}

	root := toolCtx.Resolve(params.Path)
	var matches []GrepMatch
	truncated := false

	errStop := fmt.Errorf("stop")
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && shouldIgnore(d.Name(), true, defaultIgnorePatterns) {
				return filepath.SkipDir
			}
			return nil
		}
		if params.Include != "" && !includeMatches(params.Include, root, path) {
			return nil
		}
		found, more := searchFile(path, re, maxGrepMatches-len(matches))
		matches = append(matches, found...)
		if more {
			truncated = true
			return errStop
		}
		return nil
	})
	if walkErr != nil && walkErr != errStop {
		return nil, walkErr
	}

	if len(matches) == 0 {
		return &Result{
			Title:    "Search results",
			Output:   "No matches found",
			Metadata: map[string]any{"pattern": params.Pattern, "count": 0},
		}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.Line, m.Content)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n(Showing the first %d matches)", maxGrepMatches)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %s", pluralize(len(matches), "match")),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}

func includeMatches(pattern, root, path string) bool {
	if ok, _ := doublestar.Match(pattern, filepath.Base(path)); ok {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
	return ok
}

// searchFile returns up to limit matching lines and whether more remain.
func searchFile(path string, re *regexp.Regexp, limit int) ([]GrepMatch, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxGrepFileSize || isBinaryFile(path) {
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var out []GrepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(out) >= limit {
			return out, true
		}
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		out = append(out, GrepMatch{File: path, Line: line, Content: text})
	}
	return out, false
}

func (t *GrepTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
