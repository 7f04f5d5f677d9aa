package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Registry holds the built-in and custom presets.
type Registry struct {
	mu       sync.RWMutex
	presets  map[string]*Preset
	fallback string
	log      zerolog.Logger
}

// NewRegistry creates a registry holding the built-in presets.
func NewRegistry() *Registry {
	return &Registry{
		presets:  BuiltInPresets(),
		fallback: PresetSandboxed,
		log:      logging.Component("presets"),
	}
}

// Get returns a copy of the named preset.
func (r *Registry) Get(name string) (*Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.presets[name]
	if !ok {
		return nil, &types.NotFoundError{Kind: "preset", ID: name}
	}
	return p.Clone(), nil
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.presets[name]
	return ok
}

// Names returns the sorted preset names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns copies of every preset, sorted by rank then name.
func (r *Registry) List() []*Preset {
	r.mu.RLock()
	out := make([]*Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Register adds a custom preset. Built-in names cannot be replaced.
func (r *Registry) Register(p *Preset) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.presets[p.Name]; ok && existing.BuiltIn {
		return types.NewValidationError("preset", "%q is a built-in preset", p.Name)
	}
	c := p.Clone()
	c.BuiltIn = false
	r.presets[c.Name] = c
	return nil
}

// Load overlays custom presets from configuration. Presets may name each
// other as base in any order; cycles and unknown bases are config errors.
func (r *Registry) Load(source string, cfg map[string]types.PresetConfig) error {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]bool, len(cfg))
	visiting := make(map[string]bool)

	var build func(name string) error
	build = func(name string) error {
		if resolved[name] {
			return nil
		}
		if visiting[name] {
			return &types.ConfigError{Path: source, Err: fmt.Errorf("preset %q: base cycle", name)}
		}
		visiting[name] = true
		defer delete(visiting, name)

		pc := cfg[name]
		base := pc.Base
		if base == "" {
			base = PresetSandboxed
		}
		if _, custom := cfg[base]; custom && base != name {
			if err := build(base); err != nil {
				return err
			}
		}

		basePreset, err := r.Get(base)
		if err != nil {
			return &types.ConfigError{Path: source, Err: fmt.Errorf("preset %q: unknown base %q", name, base)}
		}
		p, err := overlay(name, basePreset, pc)
		if err != nil {
			return &types.ConfigError{Path: source, Err: err}
		}
		if err := r.Register(p); err != nil {
			return &types.ConfigError{Path: source, Err: err}
		}
		resolved[name] = true
		return nil
	}

	for _, name := range names {
		if err := build(name); err != nil {
			return err
		}
	}
	return nil
}

func overlay(name string, base *Preset, pc types.PresetConfig) (*Preset, error) {
	p := base.Clone()
	p.Name = name
	p.Base = base.Name
	p.BuiltIn = false
	p.Rank = base.Rank + 1
	p.Description = pc.Description
	if p.Description == "" {
		p.Description = "custom preset based on " + base.Name
	}

	for tool, tc := range pc.Tools {
		tp, ok := p.Tools[tool]
		if !ok {
			tp = &permission.ToolPermission{Enabled: true}
		}
		if tc.Enabled != nil {
			tp.Enabled = *tc.Enabled
		}
		if tc.AllowedPaths != nil {
			tp.AllowedPaths = append([]string{}, tc.AllowedPaths...)
		}
		if tc.Timeout != "" {
			d, err := time.ParseDuration(tc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("preset %q tool %q: timeout: %w", name, tool, err)
			}
			tp.Timeout = d
		}
		if tc.RequiresConfirmation != nil {
			v := *tc.RequiresConfirmation
			tp.RequiresConfirmation = &v
		}
		if tc.AllowedTargets != nil {
			tp.AllowedTargets = permission.ParseTargetRestriction(tc.AllowedTargets)
		}
		if tc.ReadOnly != nil {
			tp.ReadOnly = *tc.ReadOnly
		}
		if tc.AllowedCommands != nil {
			tp.AllowedCommands = append([]string{}, tc.AllowedCommands...)
		}
		p.Tools[tool] = tp
	}
	return p, nil
}

// Resolve returns the preset to instantiate for name. Malformed names are a
// ValidationError. A well-formed but unknown name falls back to sandboxed
// and is logged with the closest known name; it never grants more.
func (r *Registry) Resolve(name string) (*Preset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if p, err := r.Get(name); err == nil {
		return p, nil
	}

	ev := r.log.Warn().Str("preset", name).Str("fallback", r.fallback)
	if s := permission.Suggest(name, r.Names()); s != "" {
		ev = ev.Str("suggestion", s)
	}
	ev.Msg("unknown preset, using fallback")

	return r.Get(r.fallback)
}

// Rank returns the trust rank of a preset; unknown names rank as the fallback.
func (r *Registry) Rank(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.presets[name]; ok {
		return p.Rank
	}
	return r.presets[r.fallback].Rank
}

// CheckSpawn rejects creating a child with a more trusted preset than its parent.
func (r *Registry) CheckSpawn(parentPreset, childPreset string) error {
	if r.Rank(childPreset) > r.Rank(parentPreset) {
		return &types.PermissionDeniedError{
			Tool:   "spawn_agent",
			Check:  permission.CheckAction,
			Reason: fmt.Sprintf("preset %q is more trusted than the parent's %q", childPreset, parentPreset),
		}
	}
	return nil
}

// Describe renders a one-line-per-tool summary of a preset.
func Describe(p *Preset) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (rank %d): %s\n", p.Name, p.Rank, p.Description)
	for _, name := range p.ToolNames() {
		tp := p.Tools[name]
		state := "disabled"
		if tp.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(&sb, "  %-14s %s", name, state)
		if tp.AllowedPaths != nil {
			fmt.Fprintf(&sb, " paths=%v", tp.AllowedPaths)
		}
		if tp.AllowedTargets != nil {
			fmt.Fprintf(&sb, " targets=%s", tp.AllowedTargets)
		}
		if tp.NeedsConfirmation() {
			sb.WriteString(" confirm")
		}
		if tp.ReadOnly {
			sb.WriteString(" read-only")
		}
		if len(tp.AllowedCommands) > 0 {
			fmt.Fprintf(&sb, " commands=%v", tp.AllowedCommands)
		}
		if tp.Timeout > 0 {
			fmt.Fprintf(&sb, " timeout=%s", tp.Timeout)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
