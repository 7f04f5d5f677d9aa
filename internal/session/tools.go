package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/tool"
)

// runTool sends one call through the guard, the enforcer and confirmation,
// then executes it. The returned string is the tool result the model sees.
func (s *Session) runTool(ctx context.Context, guard *permission.RepeatGuard, tc schema.ToolCall) string {
	name := tc.Function.Name
	log := s.log.With().Str("tool", name).Str("call", tc.ID).Logger()

	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Debug().Err(err).Msg("malformed tool arguments")
		return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err)
	}
	call := permission.ToolCall{ID: tc.ID, Name: name, Args: args}

	if d, ok := guard.Observe(call); !ok {
		return s.denied(call, d)
	}

	s.permMu.RLock()
	d := s.enforcer.Check(call, s.perms)
	s.permMu.RUnlock()
	if !d.Allowed {
		return s.denied(call, d)
	}

	if d.RequiresConfirmation {
		if s.confirm == nil {
			return s.denied(call, permission.Decision{
				Tool:   name,
				Check:  permission.CheckConfirm,
				Reason: "confirmation required but no one is available to confirm",
			})
		}
		res := s.confirm(ctx, call, d.TargetPath)
		if !res.Approved {
			reason := res.Reason
			if reason == "" {
				reason = "rejected by user"
			}
			log.Info().Str("reason", reason).Msg("tool call rejected")
			return "Rejected: " + reason
		}
	}

	t, ok := s.tools.Get(name)
	if !ok {
		// The enforcer denies unknown tools, so this only happens if the
		// registry and catalog disagree.
		return fmt.Sprintf("Error: tool %s is not available", name)
	}

	execCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	res, err := t.Execute(execCtx, json.RawMessage(raw), &tool.Context{
		AgentID:  s.id,
		CallID:   tc.ID,
		WorkDir:  s.cwd,
		Services: s.services,
	})

	out := ""
	switch {
	case err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		out = fmt.Sprintf("Error: %s timed out after %s", name, d.Timeout)
	case err != nil:
		out = "Error: " + err.Error()
	case res == nil:
		out = ""
	case res.Error != nil:
		out = "Error: " + res.Error.Error()
		if res.Output != "" {
			out = res.Output + "\n" + out
		}
	default:
		out = res.Output
	}

	data := event.ToolData{CallID: tc.ID, Tool: name}
	if err != nil {
		data.Reason = err.Error()
	}
	s.bus.Publish(event.Event{Type: event.ToolExecuted, AgentID: s.id, Data: data})
	log.Debug().Bool("error", err != nil).Msg("tool executed")
	return out
}

func (s *Session) denied(call permission.ToolCall, d permission.Decision) string {
	s.log.Info().
		Str("tool", call.Name).
		Str("check", d.Check).
		Str("reason", d.Reason).
		Msg("tool call denied")
	s.bus.Publish(event.Event{
		Type:    event.ToolDenied,
		AgentID: s.id,
		Data:    event.ToolData{CallID: call.ID, Tool: call.Name, Check: d.Check, Reason: d.Reason},
	})
	return "Permission denied: " + d.Err().Error()
}
