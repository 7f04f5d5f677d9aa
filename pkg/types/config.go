package types

// Config represents the agentpool configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model selection, "provider/model" (e.g. "anthropic/claude-sonnet-4-20250514")
	Model string `json:"model,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	Server  ServerConfig  `json:"server,omitempty"`
	Pool    PoolConfig    `json:"pool,omitempty"`
	Context ContextConfig `json:"context,omitempty"`
	Editor  EditorConfig  `json:"editor,omitempty"`

	// MCP server configs
	MCP map[string]MCPConfig `json:"mcp,omitempty"`

	// Custom permission presets, keyed by preset name
	Presets map[string]PresetConfig `json:"presets,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	Disable   bool   `json:"disable,omitempty"`
}

// ServerConfig configures the HTTP RPC surface.
type ServerConfig struct {
	Port     int    `json:"port,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	CORS     *bool  `json:"cors,omitempty"`
}

// PoolConfig configures agent lifecycle and policy resolution.
type PoolConfig struct {
	// AllowedRoots restricts agent working directories. Empty means any directory.
	AllowedRoots []string `json:"allowedRoots,omitempty"`

	// DefaultPreset is used when a create request names no preset.
	DefaultPreset string `json:"defaultPreset,omitempty"`

	// PresetsFile is a YAML file with additional custom presets.
	PresetsFile string `json:"presetsFile,omitempty"`

	// UnknownTargets decides unrecognized target restrictions: "allow" (default) or "deny".
	UnknownTargets string `json:"unknownTargets,omitempty"`

	// MaxSteps bounds model/tool iterations per turn.
	MaxSteps int `json:"maxSteps,omitempty"`

	// Persist saves a snapshot after every turn.
	Persist bool `json:"persist,omitempty"`
}

// ContextConfig configures the context assembler.
type ContextConfig struct {
	// Budget is the token ceiling for system prompt plus history.
	Budget int `json:"budget,omitempty"`

	// Strategy is "oldest-first" (default) or "middle-out".
	Strategy string `json:"strategy,omitempty"`

	// InjectScratch toggles the scratch-storage index in the rendered prompt.
	InjectScratch *bool `json:"injectScratch,omitempty"`

	// ClockHeading is the heading line the wall clock is spliced under.
	ClockHeading string `json:"clockHeading,omitempty"`

	// Candidates overrides the instruction file priority list.
	Candidates []CandidateConfig `json:"candidates,omitempty"`

	// StopAtGitRoot ends the ancestor walk at the enclosing repository root.
	StopAtGitRoot *bool `json:"stopAtGitRoot,omitempty"`

	// Tokenizer selects the token estimator: "heuristic" (default) or "tiktoken".
	Tokenizer string `json:"tokenizer,omitempty"`

	// SystemDefaults replaces the built-in system defaults with a file's content.
	SystemDefaults string `json:"systemDefaults,omitempty"`
}

// CandidateConfig is one entry of the instruction file priority list.
type CandidateConfig struct {
	Name          string   `json:"name"`
	Locations     []string `json:"locations,omitempty"`
	Documentation bool     `json:"documentation,omitempty"`
}

// EditorConfig configures the editor bridge.
type EditorConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	LockDir string `json:"lockDir,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // ms
}

// PresetConfig describes a custom permission preset layered over a base preset.
type PresetConfig struct {
	Base        string                     `json:"base,omitempty" yaml:"base,omitempty"`
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Tools       map[string]ToolPolicyConfig `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// ToolPolicyConfig is the serialized form of a per-tool permission override.
// AllowedTargets accepts "unrestricted", "parent", "children", "family" or a list of agent ids.
type ToolPolicyConfig struct {
	Enabled              *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	AllowedPaths         []string `json:"allowedPaths,omitempty" yaml:"allowedPaths,omitempty"`
	Timeout              string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RequiresConfirmation *bool    `json:"requiresConfirmation,omitempty" yaml:"requiresConfirmation,omitempty"`
	AllowedTargets       any      `json:"allowedTargets,omitempty" yaml:"allowedTargets,omitempty"`
	ReadOnly             *bool    `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	AllowedCommands      []string `json:"allowedCommands,omitempty" yaml:"allowedCommands,omitempty"`
}
