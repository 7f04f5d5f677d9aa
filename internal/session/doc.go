// Package session runs one agent's conversation.
//
// A Session owns the agent's history, its resolved permissions, the context
// assembler and the bound chat model. Send runs one turn: it drains the inbox,
// appends the user message and then alternates between the model and tool
// execution until the model answers without tool calls, the step limit is
// reached or the turn is cancelled.
//
// Every tool call passes the same pipeline before it runs:
//
//	repeat guard -> enforcer (enabled, action, target, path) -> confirmation -> execute with timeout
//
// A denial never aborts the turn. It becomes the tool result the model sees,
// so the model can adjust. The system prompt is rendered fresh for every
// model call and is never stored in history.
//
// Sessions do not know about each other. Inter-agent messages arrive through
// Deliver and relationship changes through UpdatePermissions, both driven by
// the pool.
package session
