package pool

import (
	"context"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Destroy tears an agent down. New operations fail with NotFound as soon as
// it starts; the running turn is cancelled and in-flight operations are
// awaited before resources are released. The parent forgets the agent and
// live children lose their parent reference. The persisted snapshot is kept.
func (p *Pool) Destroy(ctx context.Context, id string) error {
	e, ok := p.entry(id)
	if !ok {
		return types.NewNotFound(id)
	}
	parentID := e.sess.ParentID()

	unlock, err := p.locks.lock(ctx, id, parentID)
	if err != nil {
		return err
	}
	defer unlock()

	if cur, ok := p.entry(id); !ok || cur != e {
		return types.NewNotFound(id)
	}

	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	e.sess.Cancel()
	p.opts.Broker.CancelAgent(id)

	if err := waitOps(ctx, e); err != nil {
		e.mu.Lock()
		e.closing = false
		e.mu.Unlock()
		p.log.Warn().Err(err).Str("agent", id).Msg("destroy abandoned while waiting for in-flight operations")
		return err
	}

	p.agents.Delete(id)
	p.release(e)
	dropped := p.opts.Scratch.DropAgent(ctx, id)

	if parentID != "" {
		if parent, ok := p.entry(parentID); ok {
			parent.sess.UpdatePermissions(func(pp *permission.AgentPermissions) { pp.RemoveChild(id) })
		}
	}
	for _, childID := range e.sess.ChildIDs() {
		if child, ok := p.entry(childID); ok {
			child.sess.UpdatePermissions(func(cp *permission.AgentPermissions) {
				if cp.ParentAgentID == id {
					cp.ParentAgentID = ""
				}
			})
		}
	}

	p.opts.Bus.Publish(event.Event{
		Type:    event.AgentDestroyed,
		AgentID: id,
		Data:    event.AgentData{Cwd: e.sess.Cwd(), ParentID: parentID},
	})
	p.log.Info().Str("agent", id).Int("scratch_dropped", dropped).Msg("agent destroyed")
	return nil
}

func waitOps(ctx context.Context, e *entry) error {
	done := make(chan struct{})
	go func() {
		e.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
