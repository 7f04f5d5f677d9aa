package tool

import (
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentpool/internal/permission"
)

// Registry is the set of tools one agent can call. Which of them it may
// actually run is decided by the enforcer, not by registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same id.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.ID()] = t
	}
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns all registered tools sorted by id.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs() []string {
	tools := r.List()
	ids := make([]string, len(tools))
	for i, t := range tools {
		ids[i] = t.ID()
	}
	return ids
}

// Catalog returns the access metadata the enforcer checks calls against.
func (r *Registry) Catalog() permission.Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := make(permission.Catalog, len(r.tools))
	for id, t := range r.tools {
		c[id] = t.Access()
	}
	return c
}

// ToolInfos returns Eino tool infos for the tools the permissions enable.
// A nil perms returns every tool.
func (r *Registry) ToolInfos(perms *permission.AgentPermissions) []*schema.ToolInfo {
	var infos []*schema.ToolInfo
	for _, t := range r.List() {
		if perms != nil {
			if tp, _, ok := perms.Lookup(t.ID()); !ok || !tp.Enabled {
				continue
			}
		}
		infos = append(infos, toolInfo(t))
	}
	return infos
}

// Options configures the built-in tool set.
type Options struct {
	// BashShell overrides the shell used by the bash tool.
	BashShell string
}

// DefaultRegistry creates a registry with all built-in tools.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(
		NewReadTool(),
		NewWriteTool(),
		NewEditTool(),
		NewListTool(),
		NewGlobTool(),
		NewGrepTool(),
		NewDiagnosticsTool(),
		NewBashTool(opts.BashShell),
		NewWebFetchTool(),

		NewSendMessageTool(),
		NewSpawnAgentTool(),
		NewDestroyAgentTool(),
		NewListAgentsTool(),

		NewScratchPutTool(),
		NewScratchGetTool(),
	)
	return r
}
