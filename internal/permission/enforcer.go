package permission

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Pipeline stages, in evaluation order.
const (
	CheckEnabled = "enabled"
	CheckAction  = "action"
	CheckTarget  = "target"
	CheckPath    = "path"
	CheckRepeat  = "repeat"
	CheckConfirm = "confirmation"
)

// UnknownTargetMode decides what an unparseable target restriction does.
type UnknownTargetMode string

const (
	UnknownTargetsAllow UnknownTargetMode = "allow"
	UnknownTargetsDeny  UnknownTargetMode = "deny"
)

// ParseUnknownTargetMode maps a config value to a mode; anything but "deny" allows.
func ParseUnknownTargetMode(s string) UnknownTargetMode {
	if strings.EqualFold(strings.TrimSpace(s), string(UnknownTargetsDeny)) {
		return UnknownTargetsDeny
	}
	return UnknownTargetsAllow
}

// Decision is the outcome of Enforcer.Check.
type Decision struct {
	Allowed bool
	Tool    string
	// Check is the failing stage when denied.
	Check                string
	Reason               string
	RequiresConfirmation bool
	Timeout              time.Duration
	// TargetPath is the first resolved path argument, if any.
	TargetPath string
}

// Err returns nil for an allowed decision and a *types.PermissionDeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &types.PermissionDeniedError{Tool: d.Tool, Check: d.Check, Reason: d.Reason}
}

func deny(tool, check, format string, args ...any) Decision {
	return Decision{Tool: tool, Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Enforcer evaluates tool calls against an agent's resolved permissions.
// Check has no side effects besides logging.
type Enforcer struct {
	catalog        Catalog
	cwd            string
	unknownTargets UnknownTargetMode
	log            zerolog.Logger
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithUnknownTargets sets how unknown target restrictions are treated.
func WithUnknownTargets(mode UnknownTargetMode) EnforcerOption {
	return func(e *Enforcer) { e.unknownTargets = mode }
}

// WithLogger sets the logger used for decision-time warnings.
func WithLogger(log zerolog.Logger) EnforcerOption {
	return func(e *Enforcer) { e.log = log }
}

// NewEnforcer creates an enforcer for an agent working in cwd.
func NewEnforcer(catalog Catalog, cwd string, opts ...EnforcerOption) *Enforcer {
	e := &Enforcer{
		catalog:        catalog,
		cwd:            cwd,
		unknownTargets: UnknownTargetsAllow,
		log:            logging.Component("permission"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check runs the enabled, action, target and path checks in order and stops
// at the first denial.
func (e *Enforcer) Check(call ToolCall, perms *AgentPermissions) Decision {
	if perms == nil {
		return deny(call.Name, CheckEnabled, "agent has no permissions")
	}

	access, known := e.catalog[call.Name]
	perm, key, ok := perms.Lookup(call.Name)
	if !known || !ok {
		reason := fmt.Sprintf("unknown tool %q", call.Name)
		if known {
			reason = fmt.Sprintf("tool %q has no entry in preset %q", call.Name, perms.Preset)
		} else if s := Suggest(call.Name, e.catalog.Names()); s != "" {
			reason += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return deny(call.Name, CheckEnabled, "%s", reason)
	}
	if !perm.Enabled {
		if key != call.Name {
			return deny(call.Name, CheckEnabled, "tool %q is disabled (matched %q)", call.Name, key)
		}
		return deny(call.Name, CheckEnabled, "tool %q is disabled", call.Name)
	}

	if d, ok := e.checkAction(call, access, perm); !ok {
		return d
	}
	if access.TargetArg != "" {
		if d, ok := e.checkTarget(call, access, perm, perms); !ok {
			return d
		}
	}

	target, d, ok := e.checkPaths(call, access, perm)
	if !ok {
		return d
	}

	return Decision{
		Allowed:              true,
		Tool:                 call.Name,
		RequiresConfirmation: perm.NeedsConfirmation(),
		Timeout:              perm.Timeout,
		TargetPath:           target,
	}
}

func (e *Enforcer) checkAction(call ToolCall, access Access, perm *ToolPermission) (Decision, bool) {
	if perm.ReadOnly && access.Action.Mutates() {
		return deny(call.Name, CheckAction, "read-only policy forbids %s actions", access.Action), false
	}
	if access.Action != ActionExecute || access.CommandArg == "" || len(perm.AllowedCommands) == 0 {
		return Decision{}, true
	}

	command, _ := call.String(access.CommandArg)
	commands, err := ParseBashCommand(command)
	if err != nil {
		return deny(call.Name, CheckAction, "command could not be parsed: %v", err), false
	}
	if len(commands) == 0 {
		return deny(call.Name, CheckAction, "no command found in %q", access.CommandArg), false
	}
	for _, cmd := range commands {
		if !matchesAny(perm.AllowedCommands, cmd) {
			return deny(call.Name, CheckAction, "command %q is not in the allowed commands %v", cmd.Name, perm.AllowedCommands), false
		}
	}
	return Decision{}, true
}

func matchesAny(patterns []string, cmd BashCommand) bool {
	for _, p := range patterns {
		if MatchCommand(p, cmd) {
			return true
		}
	}
	return false
}

func (e *Enforcer) checkTarget(call ToolCall, access Access, perm *ToolPermission, perms *AgentPermissions) (Decision, bool) {
	target, _ := call.String(access.TargetArg)
	target = strings.TrimSpace(target)
	if target == "" {
		return deny(call.Name, CheckTarget, "missing target argument %q", access.TargetArg), false
	}

	restriction := perm.AllowedTargets
	if restriction == nil {
		return Decision{}, true
	}

	parent := perms.ParentAgentID
	switch restriction.Kind {
	case TargetUnrestricted:
		return Decision{}, true

	case TargetParentOnly:
		if parent == "" {
			return deny(call.Name, CheckTarget, "target %q denied: this agent has no parent ('none')", target), false
		}
		if target == parent {
			return Decision{}, true
		}
		return deny(call.Name, CheckTarget, "target %q is not this agent's parent ('%s')", target, parent), false

	case TargetChildrenOnly:
		if perms.HasChild(target) {
			return Decision{}, true
		}
		return deny(call.Name, CheckTarget, "target %q is not a child of this agent (children: %s)", target, formatIDs(perms.ChildAgentIDs)), false

	case TargetFamily:
		if (parent != "" && target == parent) || perms.HasChild(target) {
			return Decision{}, true
		}
		return deny(call.Name, CheckTarget, "target %q is neither the parent ('%s') nor a child %s", target, orNone(parent), formatIDs(perms.ChildAgentIDs)), false

	case TargetExplicit:
		for _, id := range restriction.Agents {
			if id == target {
				return Decision{}, true
			}
		}
		return deny(call.Name, CheckTarget, "target %q is not in the allowed agents %s", target, formatIDs(restriction.Agents)), false
	}

	if e.unknownTargets == UnknownTargetsDeny {
		return deny(call.Name, CheckTarget, "target restriction %q is not recognized", restriction.Raw), false
	}
	e.log.Warn().
		Str("tool", call.Name).
		Str("target", target).
		Str("restriction", restriction.Raw).
		Msg("unrecognized target restriction, allowing")
	return Decision{}, true
}

func orNone(id string) string {
	if id == "" {
		return "none"
	}
	return id
}

func (e *Enforcer) checkPaths(call ToolCall, access Access, perm *ToolPermission) (string, Decision, bool) {
	var raw []string
	for _, arg := range access.PathArgs {
		p, ok := call.String(arg)
		if !ok || strings.TrimSpace(p) == "" {
			p = "."
		}
		raw = append(raw, p)
	}
	if access.CommandArg != "" && perm.AllowedPaths != nil {
		command, _ := call.String(access.CommandArg)
		script, err := ParseBashScript(command)
		if err != nil {
			return "", deny(call.Name, CheckPath, "command could not be parsed: %v", err), false
		}
		raw = append(raw, ScriptPaths(script)...)
	}

	first := ""
	for _, p := range raw {
		resolved, err := ResolvePath(p, e.cwd)
		if err != nil {
			if perm.AllowedPaths == nil {
				continue
			}
			return "", deny(call.Name, CheckPath, "cannot verify path %q: %v", p, err), false
		}
		if first == "" {
			first = resolved
		}
		if perm.AllowedPaths != nil && !WithinAny(resolved, perm.AllowedPaths, e.cwd) {
			return "", deny(call.Name, CheckPath, "path %q is outside the allowed paths %v", resolved, perm.AllowedPaths), false
		}
	}
	return first, Decision{}, true
}
