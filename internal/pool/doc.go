// Package pool is the single authority mapping agent ids to live sessions.
//
// Create, Restore and Destroy are serialized per agent id with context-aware
// keyed locks; when a parent is involved both ids are locked in sorted order.
// Operations on different ids never contend. Entries are swapped into a
// sync.Map only after full construction, so Get is lock-free and never sees a
// half-built agent.
//
// The pool also implements the registry.Relations and tool.Agents
// capabilities, which is how agent-management tools reach it without ever
// seeing another agent's permissions.
package pool
