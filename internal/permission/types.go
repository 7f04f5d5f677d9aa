package permission

import (
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Action classifies what a tool does to the outside world.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExecute Action = "execute"
	ActionFetch   Action = "fetch"
	ActionMessage Action = "message"
	ActionManage  Action = "manage"
)

// Mutates reports whether a read-only policy forbids the action.
func (a Action) Mutates() bool {
	switch a {
	case ActionWrite, ActionExecute, ActionManage:
		return true
	}
	return false
}

// Access describes which arguments of a tool the enforcer inspects.
type Access struct {
	Action Action
	// TargetArg names the argument holding another agent's id.
	TargetArg string
	// PathArgs name arguments holding filesystem paths. A missing
	// argument is checked as the agent's working directory.
	PathArgs []string
	// CommandArg names the argument holding a shell command.
	CommandArg string
}

// Catalog maps tool names to their access metadata.
type Catalog map[string]Access

// Names returns the sorted tool names.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolCall is one tool invocation requested by the model. Treat as immutable.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// String returns the string argument name, if present and a string.
func (c ToolCall) String(name string) (string, bool) {
	v, ok := c.Args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ToolPermission is the policy for a single tool.
type ToolPermission struct {
	Enabled bool `json:"enabled"`
	// AllowedPaths nil means unrestricted; an empty slice allows nothing.
	AllowedPaths         []string           `json:"allowedPaths"`
	Timeout              time.Duration      `json:"timeout,omitempty"`
	RequiresConfirmation *bool              `json:"requiresConfirmation,omitempty"`
	AllowedTargets       *TargetRestriction `json:"allowedTargets,omitempty"`
	ReadOnly             bool               `json:"readOnly,omitempty"`
	AllowedCommands      []string           `json:"allowedCommands,omitempty"`
}

// NeedsConfirmation resolves the tri-state flag; unset means no.
func (p *ToolPermission) NeedsConfirmation() bool {
	return p.RequiresConfirmation != nil && *p.RequiresConfirmation
}

// Clone returns a deep copy.
func (p *ToolPermission) Clone() *ToolPermission {
	if p == nil {
		return nil
	}
	c := *p
	if p.AllowedPaths != nil {
		c.AllowedPaths = append([]string{}, p.AllowedPaths...)
	}
	if p.RequiresConfirmation != nil {
		v := *p.RequiresConfirmation
		c.RequiresConfirmation = &v
	}
	if p.AllowedTargets != nil {
		c.AllowedTargets = p.AllowedTargets.Clone()
	}
	if p.AllowedCommands != nil {
		c.AllowedCommands = append([]string{}, p.AllowedCommands...)
	}
	return &c
}

// AgentPermissions is the resolved policy owned by exactly one agent.
type AgentPermissions struct {
	Preset        string                     `json:"preset"`
	Tools         map[string]*ToolPermission `json:"tools"`
	ParentAgentID string                     `json:"parentAgentID,omitempty"`
	ChildAgentIDs []string                   `json:"childAgentIDs,omitempty"`
}

// Clone returns a deep copy that shares nothing with p.
func (p *AgentPermissions) Clone() *AgentPermissions {
	if p == nil {
		return nil
	}
	c := &AgentPermissions{
		Preset:        p.Preset,
		Tools:         make(map[string]*ToolPermission, len(p.Tools)),
		ParentAgentID: p.ParentAgentID,
	}
	for name, tp := range p.Tools {
		c.Tools[name] = tp.Clone()
	}
	if len(p.ChildAgentIDs) > 0 {
		c.ChildAgentIDs = append([]string{}, p.ChildAgentIDs...)
	}
	return c
}

// Lookup returns the entry governing tool and the key it was found under.
// Exact keys win; otherwise the longest matching doublestar pattern wins.
func (p *AgentPermissions) Lookup(tool string) (*ToolPermission, string, bool) {
	if tp, ok := p.Tools[tool]; ok && tp != nil {
		return tp, tool, true
	}

	best := ""
	for key, tp := range p.Tools {
		if tp == nil || !isPattern(key) {
			continue
		}
		ok, err := doublestar.Match(key, tool)
		if err != nil || !ok {
			continue
		}
		if len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
		}
	}
	if best == "" {
		return nil, "", false
	}
	return p.Tools[best], best, true
}

// HasChild reports whether id is a direct child.
func (p *AgentPermissions) HasChild(id string) bool {
	i := sort.SearchStrings(p.ChildAgentIDs, id)
	return i < len(p.ChildAgentIDs) && p.ChildAgentIDs[i] == id
}

// AddChild inserts id keeping the list sorted and duplicate-free.
func (p *AgentPermissions) AddChild(id string) {
	i := sort.SearchStrings(p.ChildAgentIDs, id)
	if i < len(p.ChildAgentIDs) && p.ChildAgentIDs[i] == id {
		return
	}
	p.ChildAgentIDs = append(p.ChildAgentIDs, "")
	copy(p.ChildAgentIDs[i+1:], p.ChildAgentIDs[i:])
	p.ChildAgentIDs[i] = id
}

// RemoveChild drops id if present.
func (p *AgentPermissions) RemoveChild(id string) {
	i := sort.SearchStrings(p.ChildAgentIDs, id)
	if i < len(p.ChildAgentIDs) && p.ChildAgentIDs[i] == id {
		p.ChildAgentIDs = append(p.ChildAgentIDs[:i], p.ChildAgentIDs[i+1:]...)
	}
}

func isPattern(key string) bool {
	return strings.ContainsAny(key, "*?[{")
}
