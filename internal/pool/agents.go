package pool

import (
	"context"
	"fmt"

	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// agentsCapability is the pool as seen by agent-management tools.
type agentsCapability struct {
	pool *Pool
}

var _ tool.Agents = (*agentsCapability)(nil)

func agentInfo(st session.Status) tool.AgentInfo {
	return tool.AgentInfo{
		ID:       st.ID,
		Preset:   st.Preset,
		Cwd:      st.Cwd,
		ParentID: st.ParentID,
		Children: st.Children,
		Busy:     st.State == session.StateRunning,
	}
}

// Spawn creates a child of parentID. A child may not hold a more trusted
// preset than its parent. With a task, the child's first turn runs in the
// background and its final answer is delivered to the parent's inbox.
func (a *agentsCapability) Spawn(ctx context.Context, parentID string, req tool.SpawnRequest) (tool.AgentInfo, error) {
	p := a.pool
	parent, ok := p.entry(parentID)
	if !ok {
		return tool.AgentInfo{}, types.NewNotFound(parentID)
	}

	preset := req.Preset
	if preset == "" {
		preset = p.opts.DefaultPreset
	}
	if err := p.opts.Presets.CheckSpawn(parent.sess.Permissions().Preset, preset); err != nil {
		return tool.AgentInfo{}, err
	}
	cwd := req.Cwd
	if cwd == "" {
		cwd = parent.sess.Cwd()
	}

	child, err := p.Create(ctx, CreateRequest{ID: req.ID, Preset: preset, Cwd: cwd, ParentID: parentID})
	if err != nil {
		return tool.AgentInfo{}, err
	}
	if req.Task != "" {
		p.runTask(child.ID(), parentID, req.Task)
	}
	return agentInfo(child.Status()), nil
}

func (p *Pool) runTask(childID, parentID, task string) {
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()

		var reply string
		res, err := p.Send(p.ctx, childID, task)
		switch {
		case err != nil:
			reply = fmt.Sprintf("Task failed: %v", err)
		case res.Stop == session.StopCancelled:
			reply = "Task cancelled before completion."
		case res.Content == "":
			reply = "Task finished without a reply."
		default:
			reply = res.Content
		}

		if err := p.Deliver(p.ctx, childID, parentID, reply); err != nil {
			p.log.Warn().Err(err).Str("agent", childID).Str("parent", parentID).Msg("task reply not delivered")
		}
	}()
}

func (a *agentsCapability) Destroy(ctx context.Context, callerID, targetID string) error {
	if callerID == targetID {
		return types.NewValidationError("target", "an agent cannot destroy itself")
	}
	return a.pool.Destroy(ctx, targetID)
}

func (a *agentsCapability) Deliver(ctx context.Context, from, to, content string) error {
	return a.pool.Deliver(ctx, from, to, content)
}

func (a *agentsCapability) List() []tool.AgentInfo {
	statuses := a.pool.List()
	out := make([]tool.AgentInfo, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, agentInfo(st))
	}
	return out
}
