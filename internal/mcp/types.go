package mcp

import "encoding/json"

// Config defines MCP server configuration.
type Config struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// TransportType represents the type of MCP transport.
type TransportType string

const (
	TransportTypeRemote TransportType = "remote"
	TransportTypeLocal  TransportType = "local"
	TransportTypeStdio  TransportType = "stdio"
)

// Tool is a remote tool as advertised to agents.
type Tool struct {
	// Name is the registered name, mcp_<server>_<tool>.
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`

	Server string `json:"server"`
	// Remote is the tool's name on its server.
	Remote string `json:"remote"`
}

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	Name      string      `json:"name"`
	Status    Status      `json:"status"`
	ToolCount int         `json:"toolCount"`
	Server    *ServerInfo `json:"server,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Status represents the connection status.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusDisabled   Status = "disabled"
	StatusFailed     Status = "failed"
	StatusConnecting Status = "connecting"
)

// ServerInfo identifies a connected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
