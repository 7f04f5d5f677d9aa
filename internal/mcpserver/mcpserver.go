// Package mcpserver exposes the agent pool as MCP tools so an MCP host can
// create, drive and tear down agents.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opencode-ai/agentpool/internal/pool"
)

// Name is the server name advertised during initialization.
const Name = "agentpool"

type handlers struct {
	pool *pool.Pool
}

// NewServer creates an MCP server with the agent tools bound to p.
func NewServer(p *pool.Pool, version string) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	h := &handlers{pool: p}

	s.AddTool(mcp.NewTool("agent_create",
		mcp.WithDescription("Creates an agent with a permission preset and working directory"),
		mcp.WithString("cwd",
			mcp.Required(),
			mcp.Description("Absolute working directory of the agent"),
		),
		mcp.WithString("id",
			mcp.Description("Agent id; generated when empty"),
		),
		mcp.WithString("preset",
			mcp.Description("Permission preset: sandboxed, trusted, yolo or a configured name"),
		),
		mcp.WithString("parentID",
			mcp.Description("Existing agent to attach the new agent to as a child"),
		),
	), h.create)

	s.AddTool(mcp.NewTool("agent_destroy",
		mcp.WithDescription("Destroys an agent, cancelling its running turn"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Agent id")),
	), h.destroy)

	s.AddTool(mcp.NewTool("agent_send",
		mcp.WithDescription("Sends a user message to an agent and waits for its reply"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Agent id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	), h.send)

	s.AddTool(mcp.NewTool("agent_status",
		mcp.WithDescription("Reports one agent's status, or every agent's when id is omitted"),
		mcp.WithString("id", mcp.Description("Agent id")),
	), h.status)

	s.AddTool(mcp.NewTool("agent_cancel",
		mcp.WithDescription("Cancels an agent's running turn"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Agent id")),
	), h.cancel)

	return s
}

// ServeStdio serves s over the given streams until ctx is done or in closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func (h *handlers) create(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cwd, err := req.RequireString("cwd")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := h.pool.Create(ctx, pool.CreateRequest{
		ID:       req.GetString("id", ""),
		Preset:   req.GetString("preset", ""),
		Cwd:      cwd,
		ParentID: req.GetString("parentID", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sess.Status())
}

func (h *handlers) destroy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.pool.Destroy(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("agent %s destroyed", id)), nil
}

func (h *handlers) send(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.pool.Send(ctx, id, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(res.Content), nil
}

func (h *handlers) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return jsonResult(h.pool.List())
	}
	st, err := h.pool.Status(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (h *handlers) cancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cancelled, err := h.pool.Cancel(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !cancelled {
		return mcp.NewToolResultText(fmt.Sprintf("agent %s has no running turn", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("agent %s turn cancelled", id)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
