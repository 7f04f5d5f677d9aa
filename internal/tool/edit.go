package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/editor"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- oldString must match the file content exactly, including indentation
- The edit fails if oldString appears more than once unless replaceAll is set
- When no exact match exists, a close match (by edit distance) is used if one is similar enough`

// minFuzzySimilarity is the lowest similarity accepted for a fuzzy match.
const minFuzzySimilarity = 0.7

// EditTool implements in-place string replacement.
type EditTool struct{}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool() *EditTool {
	return &EditTool{}
}

func (t *EditTool) ID() string          { return "edit" }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionWrite, PathArgs: []string{"filePath"}}
}

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if err := required("filePath", params.FilePath); err != nil {
		return nil, err
	}
	if params.OldString == "" {
		return nil, types.NewValidationError("oldString", "must not be empty; use write to create files")
	}
	if params.OldString == params.NewString {
		return nil, types.NewValidationError("newString", "must differ from oldString")
	}

	path := toolCtx.Resolve(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)

	newText, count, mode, err := replace(text, params)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(newText), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	title := fmt.Sprintf("Edited %s", filepath.Base(path))
	if mode != "" {
		title += " (" + mode + ")"
	}
	patch := editor.BuildPatch(path, text, newText, toolCtx.WorkDir)
	return &Result{
		Title:  title,
		Output: fmt.Sprintf("Replaced %s", pluralize(count, "occurrence")),
		Metadata: map[string]any{
			"file":         path,
			"replacements": count,
			"diff":         patch.Text,
			"additions":    patch.Additions,
			"deletions":    patch.Deletions,
		},
	}, nil
}

// replace applies the edit, falling back to line-ending normalization and
// then to the most similar block.
func replace(text string, params EditInput) (string, int, string, error) {
	count := strings.Count(text, params.OldString)
	switch {
	case count > 1 && !params.ReplaceAll:
		return "", 0, "", fmt.Errorf("oldString appears %d times in file. Use replaceAll or provide more context", count)
	case count > 0 && params.ReplaceAll:
		return strings.ReplaceAll(text, params.OldString, params.NewString), count, "", nil
	case count == 1:
		return strings.Replace(text, params.OldString, params.NewString, 1), 1, "", nil
	}

	normalizedOld := normalizeLineEndings(params.OldString)
	normalizedText := normalizeLineEndings(text)
	if strings.Contains(normalizedText, normalizedOld) {
		return strings.Replace(normalizedText, normalizedOld, params.NewString, 1), 1, "normalized", nil
	}

	match, sim := findBestMatch(text, params.OldString)
	if match != "" && sim >= minFuzzySimilarity {
		return strings.Replace(text, match, params.NewString, 1), 1, fmt.Sprintf("fuzzy %.0f%%", sim*100), nil
	}
	return "", 0, "", fmt.Errorf("oldString not found in file. The content may have changed or the string doesn't exist")
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch finds the block of lines most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	n := len(strings.Split(target, "\n"))

	best, bestSim := "", 0.0
	for i := 0; i+n <= len(lines); i++ {
		block := strings.Join(lines[i:i+n], "\n")
		if sim := similarity(block, target); sim > bestSim {
			best, bestSim = block, sim
		}
	}
	return best, bestSim
}

// similarity is 1 minus the normalized Levenshtein distance.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	maxLen := max(len(a), len(b))
	if maxLen > 10000 {
		return float64(min(len(a), len(b))) / float64(maxLen)
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func (t *EditTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
