package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// ToolPrefix starts every registered MCP tool name.
const ToolPrefix = "mcp_"

const defaultConnectTimeout = 5 * time.Second

// Client manages MCP server connections using the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
	log       zerolog.Logger
}

// mcpServer represents one configured MCP server.
type mcpServer struct {
	name       string
	config     *Config
	session    *sdkmcp.ClientSession
	tools      []Tool
	status     Status
	err        string
	serverInfo *ServerInfo
}

// NewClient creates a new MCP client.
func NewClient() *Client {
	return &Client{
		servers: make(map[string]*mcpServer),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "agentpool",
			Version: "1.0.0",
		}, nil),
		log: logging.Component("mcp"),
	}
}

// AddServer adds and connects to an MCP server. A server that fails to
// connect is still recorded, with status failed.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	if config == nil {
		return types.NewValidationError("mcp."+name, "missing configuration")
	}
	if !config.Enabled {
		return c.record(&mcpServer{name: name, config: config, status: StatusDisabled})
	}

	var (
		session *sdkmcp.ClientSession
		err     error
	)
	switch config.Type {
	case TransportTypeRemote:
		session, err = c.connectRemote(ctx, config)
	case TransportTypeLocal, TransportTypeStdio, "":
		session, err = c.connectLocal(ctx, config)
	default:
		err = fmt.Errorf("unknown transport type: %s", config.Type)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("server", name).Msg("mcp server unavailable")
		if recErr := c.record(&mcpServer{name: name, config: config, status: StatusFailed, err: err.Error()}); recErr != nil {
			return recErr
		}
		return fmt.Errorf("mcp server %s: %w", name, err)
	}
	return c.attach(ctx, name, config, session)
}

// connectTransport connects over an already constructed transport.
func (c *Client) connectTransport(ctx context.Context, name string, config *Config, transport sdkmcp.Transport) error {
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return c.attach(ctx, name, config, session)
}

func (c *Client) record(server *mcpServer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[server.name]; ok {
		return &types.AlreadyExistsError{Kind: "mcp server", ID: server.name}
	}
	c.servers[server.name] = server
	return nil
}

func (c *Client) attach(ctx context.Context, name string, config *Config, session *sdkmcp.ClientSession) error {
	server := &mcpServer{name: name, config: config, session: session, status: StatusConnected}
	if ir := session.InitializeResult(); ir != nil && ir.ServerInfo != nil {
		server.serverInfo = &ServerInfo{Name: ir.ServerInfo.Name, Version: ir.ServerInfo.Version}
	}

	listCtx, cancel := context.WithTimeout(ctx, timeoutOf(config))
	defer cancel()
	if err := server.listTools(listCtx); err != nil {
		session.Close()
		return fmt.Errorf("mcp server %s: list tools: %w", name, err)
	}
	if err := c.record(server); err != nil {
		session.Close()
		return err
	}
	c.log.Info().Str("server", name).Int("tools", len(server.tools)).Msg("mcp server connected")
	return nil
}

func timeoutOf(config *Config) time.Duration {
	if config == nil || config.Timeout <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(config.Timeout) * time.Millisecond
}

func (c *Client) connectRemote(ctx context.Context, config *Config) (*sdkmcp.ClientSession, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("remote server needs a url")
	}
	httpClient := httpClientWithHeaders(nil, config.Headers)
	candidates := []struct {
		name      string
		transport sdkmcp.Transport
	}{
		{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		{"sse", &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
	}

	var lastErr error
	for _, candidate := range candidates {
		connectCtx, cancel := context.WithTimeout(ctx, timeoutOf(config))
		session, err := c.sdkClient.Connect(connectCtx, candidate.transport, nil)
		cancel()
		if err == nil {
			return session, nil
		}
		lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
	}
	return nil, lastErr
}

func (c *Client) connectLocal(ctx context.Context, config *Config) (*sdkmcp.ClientSession, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(config.Command[0], config.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range config.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeoutOf(config))
	defer cancel()
	return c.sdkClient.Connect(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, nil)
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	client.Timeout = 0 // per-request contexts bound every call
	if len(headers) == 0 {
		return &client
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: next}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

func (s *mcpServer) listTools(ctx context.Context) error {
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	s.tools = make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil || string(schemaJSON) == "null" {
			schemaJSON = json.RawMessage(`{"type": "object", "properties": {}}`)
		}
		s.tools = append(s.tools, Tool{
			Name:        ToolName(s.name, t.Name),
			Description: t.Description,
			InputSchema: schemaJSON,
			Server:      s.name,
			Remote:      t.Name,
		})
	}
	return nil
}

// ToolName is the registered name of a remote tool.
func ToolName(server, tool string) string {
	return ToolPrefix + sanitizeToolName(server) + "_" + sanitizeToolName(tool)
}

// Tools returns the tools of all connected servers, sorted by name.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for _, server := range c.servers {
		if server.status == StatusConnected {
			all = append(all, server.tools...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// CallTool runs a remote tool on its server.
func (c *Client) CallTool(ctx context.Context, t Tool, args json.RawMessage) (string, error) {
	c.mu.RLock()
	server, ok := c.servers[t.Server]
	c.mu.RUnlock()
	if !ok || server.status != StatusConnected || server.session == nil {
		return "", fmt.Errorf("mcp server not connected: %s", t.Server)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", types.NewValidationError("arguments", "invalid input: %v", err)
		}
	}

	result, err := server.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: t.Remote, Arguments: argsMap})
	if err != nil {
		return "", err
	}

	var output strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(text.Text)
		}
	}
	if result.IsError {
		if output.Len() == 0 {
			return "", fmt.Errorf("tool execution failed")
		}
		return "", fmt.Errorf("tool error: %s", output.String())
	}
	return output.String(), nil
}

// Status returns the status of all servers, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make([]ServerStatus, 0, len(c.servers))
	for name, server := range c.servers {
		status = append(status, ServerStatus{
			Name:      name,
			Status:    server.status,
			ToolCount: len(server.tools),
			Server:    server.serverInfo,
			Error:     server.err,
		})
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}

// RemoveServer disconnects and forgets a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.servers[name]
	if !ok {
		return &types.NotFoundError{Kind: "mcp server", ID: name}
	}
	if server.session != nil {
		server.session.Close()
	}
	delete(c.servers, name)
	return nil
}

// Close disconnects all servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, server := range c.servers {
		if server.session != nil {
			server.session.Close()
		}
	}
	c.servers = make(map[string]*mcpServer)
	return nil
}

// sanitizeToolName replaces non-alphanumeric chars with underscore.
func sanitizeToolName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}
