package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/registry"
)

// Agents is the pool capability behind the agent tools. It is registered
// under registry.KeyAgents.
type Agents interface {
	// Spawn creates a child of parentID. A non-empty Task runs the child's
	// first turn in the background and delivers its reply to the parent.
	Spawn(ctx context.Context, parentID string, req SpawnRequest) (AgentInfo, error)

	// Destroy tears down targetID on behalf of callerID.
	Destroy(ctx context.Context, callerID, targetID string) error

	// Deliver queues content in the inbox of agent to.
	Deliver(ctx context.Context, from, to, content string) error

	// List returns every live agent in the pool. Relationship to the caller
	// is read from ParentID and Children.
	List() []AgentInfo
}

// SpawnRequest describes a child agent.
type SpawnRequest struct {
	ID     string `json:"id,omitempty"`
	Preset string `json:"preset,omitempty"`
	Cwd    string `json:"cwd,omitempty"`
	Task   string `json:"task,omitempty"`
}

// AgentInfo is the view of an agent exposed to tools.
type AgentInfo struct {
	ID       string   `json:"id"`
	Preset   string   `json:"preset"`
	Cwd      string   `json:"cwd"`
	ParentID string   `json:"parentID,omitempty"`
	Children []string `json:"children,omitempty"`
	Busy     bool     `json:"busy"`
}

func agentsFrom(toolCtx *Context) (Agents, error) {
	if toolCtx == nil || toolCtx.Services == nil {
		return nil, fmt.Errorf("no service registry")
	}
	return registry.Lookup[Agents](toolCtx.Services, registry.KeyAgents)
}

// SendMessageInput is the input of send_message.
type SendMessageInput struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// NewSendMessageTool creates the send_message tool.
func NewSendMessageTool() Tool {
	return NewBaseTool(
		"send_message",
		`Sends a message to another agent. The message is queued and the target reads it at the start of its next turn.

Usage:
- target is the id of the receiving agent
- Which agents you may address depends on your policy (often only your parent)`,
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"target": {"type": "string", "description": "Id of the receiving agent"},
				"message": {"type": "string", "description": "Message content"}
			},
			"required": ["target", "message"]
		}`),
		permission.Access{Action: permission.ActionMessage, TargetArg: "target"},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var params SendMessageInput
			if err := decode(input, &params); err != nil {
				return nil, err
			}
			if err := required("target", params.Target); err != nil {
				return nil, err
			}
			if err := required("message", params.Message); err != nil {
				return nil, err
			}
			agents, err := agentsFrom(toolCtx)
			if err != nil {
				return nil, err
			}
			if err := agents.Deliver(ctx, toolCtx.AgentID, params.Target, params.Message); err != nil {
				return nil, err
			}
			return &Result{
				Title:    "Message to " + params.Target,
				Output:   fmt.Sprintf("Message delivered to %s.", params.Target),
				Metadata: map[string]any{"target": params.Target, "bytes": len(params.Message)},
			}, nil
		},
	)
}

// NewSpawnAgentTool creates the spawn_agent tool.
func NewSpawnAgentTool() Tool {
	return NewBaseTool(
		"spawn_agent",
		`Creates a child agent.

Usage:
- preset selects the child's policy; it can never be more permissive than yours
- cwd defaults to your working directory and must be a path you may access
- With task, the child starts working immediately and its reply is sent back to you as a message
- Without task, use send_message to give the child work`,
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Optional id for the child; generated when empty"},
				"preset": {"type": "string", "description": "Policy preset for the child (sandboxed, trusted, ...)"},
				"cwd": {"type": "string", "description": "Working directory for the child"},
				"task": {"type": "string", "description": "Optional first message for the child"}
			}
		}`),
		permission.Access{Action: permission.ActionManage, PathArgs: []string{"cwd"}},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var req SpawnRequest
			if err := decode(input, &req); err != nil {
				return nil, err
			}
			agents, err := agentsFrom(toolCtx)
			if err != nil {
				return nil, err
			}
			req.Cwd = toolCtx.Resolve(req.Cwd)
			info, err := agents.Spawn(ctx, toolCtx.AgentID, req)
			if err != nil {
				return nil, err
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Spawned agent %s (preset %s) in %s.", info.ID, info.Preset, info.Cwd)
			if req.Task != "" {
				sb.WriteString("\nIt is working on the task; its reply will arrive as a message.")
			}
			return &Result{
				Title:    "Spawn " + info.ID,
				Output:   sb.String(),
				Metadata: map[string]any{"agent": info.ID, "preset": info.Preset},
			}, nil
		},
	)
}

// DestroyAgentInput is the input of destroy_agent.
type DestroyAgentInput struct {
	Target string `json:"target"`
}

// NewDestroyAgentTool creates the destroy_agent tool.
func NewDestroyAgentTool() Tool {
	return NewBaseTool(
		"destroy_agent",
		`Destroys another agent, cancelling its work and releasing its resources.`,
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"target": {"type": "string", "description": "Id of the agent to destroy"}
			},
			"required": ["target"]
		}`),
		permission.Access{Action: permission.ActionManage, TargetArg: "target"},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var params DestroyAgentInput
			if err := decode(input, &params); err != nil {
				return nil, err
			}
			if err := required("target", params.Target); err != nil {
				return nil, err
			}
			agents, err := agentsFrom(toolCtx)
			if err != nil {
				return nil, err
			}
			if err := agents.Destroy(ctx, toolCtx.AgentID, params.Target); err != nil {
				return nil, err
			}
			return &Result{
				Title:  "Destroy " + params.Target,
				Output: fmt.Sprintf("Agent %s destroyed.", params.Target),
			}, nil
		},
	)
}

// NewListAgentsTool creates the list_agents tool.
func NewListAgentsTool() Tool {
	return NewBaseTool(
		"list_agents",
		`Lists live agents with their preset, working directory and relationship to you.`,
		json.RawMessage(`{"type": "object", "properties": {}}`),
		permission.Access{Action: permission.ActionRead},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			agents, err := agentsFrom(toolCtx)
			if err != nil {
				return nil, err
			}
			infos := agents.List()
			if len(infos) == 0 {
				return &Result{Title: "Agents", Output: "No agents."}, nil
			}

			parent := toolCtx.Services.ParentID()
			var sb strings.Builder
			for _, info := range infos {
				fmt.Fprintf(&sb, "- %s (%s) %s", info.ID, info.Preset, info.Cwd)
				switch {
				case info.ID == toolCtx.AgentID:
					sb.WriteString(" [you]")
				case info.ID == parent:
					sb.WriteString(" [parent]")
				case info.ParentID == toolCtx.AgentID:
					sb.WriteString(" [child]")
				}
				if info.Busy {
					sb.WriteString(" busy")
				}
				sb.WriteString("\n")
			}
			return &Result{
				Title:    "Agents",
				Output:   strings.TrimRight(sb.String(), "\n"),
				Metadata: map[string]any{"count": len(infos)},
			}, nil
		},
	)
}
