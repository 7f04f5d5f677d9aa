// Package permission decides whether an agent may run a tool call.
//
// # Policy
//
// Every agent owns an AgentPermissions value resolved from a preset: a map of
// tool name (or doublestar pattern) to ToolPermission, plus its place in the
// agent tree (ParentAgentID, ChildAgentIDs). Values are deep-copied on the way
// in and out of a session; nothing is shared between agents.
//
// # Enforcement
//
// Enforcer.Check evaluates a ToolCall in a fixed order and stops at the first
// denial:
//
//  1. enabled: the tool must be known and its entry enabled
//  2. action: read-only entries refuse mutating tools; execute tools are
//     limited to AllowedCommands, matched per parsed shell command
//  3. target: tools that address another agent are limited by a
//     TargetRestriction (parent, children, family, explicit list)
//  4. path: every path argument, and every path operand found in a shell
//     command, must resolve inside one of AllowedPaths
//
// Paths are resolved against the agent cwd with symlinks evaluated, using the
// nearest existing ancestor for paths that do not exist yet.
//
//	enf := permission.NewEnforcer(catalog, cwd)
//	d := enf.Check(permission.ToolCall{Name: "read", Args: args}, perms)
//	if !d.Allowed {
//		return d.Err() // *types.PermissionDeniedError
//	}
//
// An unrecognized target restriction allows the call and logs a warning,
// unless the enforcer is built WithUnknownTargets(UnknownTargetsDeny).
//
// # Confirmation
//
// When a decision carries RequiresConfirmation, the session calls its
// ConfirmFunc. The Broker implements one by parking the request until
// Respond is called over RPC. Cancelling the turn or the agent resolves
// pending requests as denials.
//
// # Repeat guard
//
// RepeatGuard denies the Nth identical consecutive call within a turn so a
// looping model gets a tool error instead of burning its step budget.
package permission
