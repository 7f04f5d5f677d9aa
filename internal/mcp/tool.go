package mcp

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/tool"
)

// RemoteTool exposes one MCP tool through the tool.Tool interface.
type RemoteTool struct {
	def    Tool
	client *Client
}

var _ tool.Tool = (*RemoteTool)(nil)

// NewRemoteTool wraps an MCP tool.
func NewRemoteTool(def Tool, client *Client) *RemoteTool {
	return &RemoteTool{def: def, client: client}
}

func (r *RemoteTool) ID() string                  { return r.def.Name }
func (r *RemoteTool) Description() string         { return r.def.Description }
func (r *RemoteTool) Parameters() json.RawMessage { return r.def.InputSchema }

// Access is always execute: remote tools are opaque to the enforcer.
func (r *RemoteTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionExecute}
}

func (r *RemoteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	output, err := r.client.CallTool(ctx, r.def, input)
	if err != nil {
		return nil, err
	}
	toolCtx.SetMetadata(r.def.Name, map[string]any{"server": r.def.Server, "tool": r.def.Remote})
	return &tool.Result{
		Title:    r.def.Server + ": " + r.def.Remote,
		Output:   output,
		Metadata: map[string]any{"server": r.def.Server, "tool": r.def.Remote},
	}, nil
}

func (r *RemoteTool) EinoTool() einotool.InvokableTool {
	return tool.Invokable(r)
}

// RegisterTools registers every tool of the client's connected servers and
// returns how many were added.
func RegisterTools(client *Client, registry *tool.Registry) int {
	if client == nil || registry == nil {
		return 0
	}
	defs := client.Tools()
	for _, def := range defs {
		registry.Register(NewRemoteTool(def, client))
	}
	return len(defs)
}
