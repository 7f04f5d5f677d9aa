package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/agentpool/internal/editor"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/registry"
)

const maxDiagnostics = 50

// DiagnosticsInput is the input of the diagnostics tool.
type DiagnosticsInput struct {
	Path string `json:"path,omitempty"`
}

// NewDiagnosticsTool creates the diagnostics tool. It needs the editor
// capability and fails fast when no editor serves the agent's directory.
func NewDiagnosticsTool() Tool {
	return NewBaseTool(
		"diagnostics",
		`Reports errors and warnings from the connected editor's language services.

Usage:
- path limits the report to one file; omit it to get every open file
- Only available when an editor is connected to the working directory`,
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File to report on (default: all open files)"}
			}
		}`),
		permission.Access{Action: permission.ActionRead, PathArgs: []string{"path"}},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var params DiagnosticsInput
			if err := decode(input, &params); err != nil {
				return nil, err
			}
			if toolCtx == nil || toolCtx.Services == nil {
				return nil, fmt.Errorf("no service registry")
			}
			bridge, err := registry.Lookup[*editor.Bridge](toolCtx.Services, registry.KeyEditor)
			if err != nil {
				return nil, err
			}

			path := ""
			if params.Path != "" {
				path = toolCtx.Resolve(params.Path)
			}
			files, err := bridge.Diagnostics(ctx, toolCtx.WorkDir, path)
			if err != nil {
				return nil, err
			}

			var sb strings.Builder
			count := 0
			for _, fd := range files {
				for _, d := range fd.Diagnostics {
					if count == maxDiagnostics {
						break
					}
					rel := fd.Path
					if r, err := filepath.Rel(toolCtx.WorkDir, fd.Path); err == nil && !strings.HasPrefix(r, "..") {
						rel = r
					}
					fmt.Fprintf(&sb, "%s:%d:%d %s: %s\n", rel, d.Range.Start.Line+1, d.Range.Start.Character+1, severityName(d.Severity), d.Message)
					count++
				}
			}
			if count == 0 {
				return &Result{Title: "No diagnostics", Output: "No diagnostics reported."}, nil
			}
			return &Result{
				Title:    pluralize(count, "diagnostic"),
				Output:   strings.TrimRight(sb.String(), "\n"),
				Metadata: map[string]any{"count": count},
			}, nil
		},
	)
}

func severityName(s int) string {
	switch s {
	case editor.SeverityError:
		return "error"
	case editor.SeverityWarning:
		return "warning"
	case editor.SeverityInformation:
		return "info"
	default:
		return "hint"
	}
}
