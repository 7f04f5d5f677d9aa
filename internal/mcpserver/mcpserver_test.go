package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/mcp"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/pool"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/internal/tool"
)

type echoModel struct{}

func (echoModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("re: "+input[len(input)-1].Content, nil), nil
}

func (echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m echoModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	bus := event.NewBus()
	p, err := pool.New(pool.Options{
		Presets: agent.NewRegistry(),
		Tools:   tool.DefaultRegistry(tool.Options{}),
		Model:   echoModel{},
		Prompt: prompt.Options{
			Home:           t.TempDir(),
			Candidates:     []prompt.Candidate{},
			SystemDefaults: "You are a test agent.",
		},
		Bus: bus,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Close(context.Background())
		bus.Close()
	})
	return p
}

func callTool(t *testing.T, p *pool.Pool, name string, args map[string]any) (string, bool) {
	t.Helper()
	s := NewServer(p, "test")
	st := s.GetTool(name)
	require.NotNil(t, st, "tool %s should exist", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := st.Handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	return text.Text, res.IsError
}

func TestServer_HasAgentTools(t *testing.T) {
	s := NewServer(newTestPool(t), "test")
	for _, name := range []string{"agent_create", "agent_destroy", "agent_send", "agent_status", "agent_cancel"} {
		st := s.GetTool(name)
		require.NotNil(t, st, name)
		assert.NotEmpty(t, st.Tool.Description)
	}
}

func TestAgentTools(t *testing.T) {
	p := newTestPool(t)
	dir := t.TempDir()

	out, isErr := callTool(t, p, "agent_create", map[string]any{"id": "a1", "cwd": dir, "preset": "trusted"})
	require.False(t, isErr, out)
	var st session.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "a1", st.ID)
	assert.Equal(t, agent.PresetTrusted, st.Preset)

	out, isErr = callTool(t, p, "agent_send", map[string]any{"id": "a1", "content": "ping"})
	require.False(t, isErr, out)
	assert.Equal(t, "re: ping", out)

	out, isErr = callTool(t, p, "agent_status", map[string]any{"id": "a1"})
	require.False(t, isErr, out)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.Messages)

	out, isErr = callTool(t, p, "agent_status", map[string]any{})
	require.False(t, isErr, out)
	var all []session.Status
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all, 1)

	out, isErr = callTool(t, p, "agent_cancel", map[string]any{"id": "a1"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "no running turn")

	out, isErr = callTool(t, p, "agent_destroy", map[string]any{"id": "a1"})
	require.False(t, isErr, out)
	assert.Equal(t, 0, p.Len())
}

func TestAgentTools_Errors(t *testing.T) {
	p := newTestPool(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"create without cwd", "agent_create", map[string]any{"id": "a1"}, "cwd"},
		{"create relative cwd", "agent_create", map[string]any{"cwd": "rel"}, "absolute"},
		{"send unknown", "agent_send", map[string]any{"id": "ghost", "content": "x"}, "not found"},
		{"send without content", "agent_send", map[string]any{"id": "ghost"}, "content"},
		{"status unknown", "agent_status", map[string]any{"id": "ghost"}, "not found"},
		{"destroy unknown", "agent_destroy", map[string]any{"id": "ghost"}, "not found"},
		{"cancel unknown", "agent_cancel", map[string]any{"id": "ghost"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := callTool(t, p, tt.tool, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, out, tt.want)
		})
	}
}

// TestServeStdio drives the server through an MCP client over pipes.
func TestServeStdio(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := newTestPool(t)
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()
	go ServeStdio(ctx, NewServer(p, "test"), serverReader, serverWriter)

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &sdkmcp.IOTransport{Reader: clientReader, Writer: clientWriter}, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tl := range tools.Tools {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{"agent_create", "agent_destroy", "agent_send", "agent_status", "agent_cancel"}, names)

	res, err := cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "agent_create",
		Arguments: map[string]any{"id": "remote", "cwd": t.TempDir()},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "agent_send",
		Arguments: map[string]any{"id": "remote", "content": "hi"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "re: hi", text.Text)

	cancel()
	clientWriter.Close()
	serverWriter.Close()
}
