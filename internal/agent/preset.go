// Package agent holds the permission presets agents are created from.
package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Built-in preset names.
const (
	PresetSandboxed = "sandboxed"
	PresetTrusted   = "trusted"
	PresetYolo      = "yolo"
)

// Path placeholders substituted when a preset is resolved for an agent.
const (
	PlaceholderCwd  = "{cwd}"
	PlaceholderHome = "{home}"
	PlaceholderTmp  = "{tmp}"
)

// Preset is an immutable permission template. Registry hands out copies.
type Preset struct {
	Name        string                                `json:"name"`
	Description string                                `json:"description,omitempty"`
	Base        string                                `json:"base,omitempty"`
	BuiltIn     bool                                  `json:"builtIn"`
	Rank        int                                   `json:"rank"`
	Tools       map[string]*permission.ToolPermission `json:"tools"`
}

// Clone returns a deep copy.
func (p *Preset) Clone() *Preset {
	c := *p
	c.Tools = make(map[string]*permission.ToolPermission, len(p.Tools))
	for name, tp := range p.Tools {
		c.Tools[name] = tp.Clone()
	}
	return &c
}

// ToolNames returns the sorted tool keys of the preset.
func (p *Preset) ToolNames() []string {
	names := make([]string, 0, len(p.Tools))
	for name := range p.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate resolves the preset into an agent-owned permission set for cwd.
func (p *Preset) Instantiate(cwd, parentID string) *permission.AgentPermissions {
	home, _ := os.UserHomeDir()
	tmp := os.TempDir()

	perms := &permission.AgentPermissions{
		Preset:        p.Name,
		Tools:         make(map[string]*permission.ToolPermission, len(p.Tools)),
		ParentAgentID: parentID,
	}
	for name, tp := range p.Tools {
		c := tp.Clone()
		if c.AllowedPaths != nil {
			c.AllowedPaths = expandPaths(c.AllowedPaths, cwd, home, tmp)
		}
		perms.Tools[name] = c
	}
	return perms
}

func expandPaths(paths []string, cwd, home, tmp string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = strings.ReplaceAll(p, PlaceholderCwd, cwd)
		p = strings.ReplaceAll(p, PlaceholderHome, home)
		p = strings.ReplaceAll(p, PlaceholderTmp, tmp)
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// ValidateName rejects names that cannot be preset names at all: empty,
// containing whitespace, path separators or control characters.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return types.NewValidationError("preset", "name must not be empty")
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' || r == '\\' {
			return types.NewValidationError("preset", "invalid character %q in name %q", r, name)
		}
	}
	return nil
}
