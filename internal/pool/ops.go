package pool

import (
	"context"
	"errors"

	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Send runs one turn on agent id and persists the result when configured.
func (p *Pool) Send(ctx context.Context, id, content string) (*session.TurnResult, error) {
	e, err := p.live(id)
	if err != nil {
		return nil, err
	}
	defer e.end()

	res, err := e.sess.Send(ctx, content)
	if errors.Is(err, session.ErrClosed) {
		return nil, types.NewNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if p.opts.Persist {
		p.persist(ctx, e)
	}
	return res, nil
}

// Cancel stops the running turn of agent id. It reports whether a turn was running.
func (p *Pool) Cancel(id string) (bool, error) {
	e, ok := p.entry(id)
	if !ok {
		return false, types.NewNotFound(id)
	}
	cancelled := e.sess.Cancel()
	if n := p.opts.Broker.CancelAgent(id); n > 0 {
		p.log.Debug().Str("agent", id).Int("confirmations", n).Msg("pending confirmations denied")
	}
	return cancelled, nil
}

// Deliver queues a message from one agent in another's inbox.
func (p *Pool) Deliver(ctx context.Context, from, to, content string) error {
	e, err := p.live(to)
	if err != nil {
		return err
	}
	defer e.end()

	if err := e.sess.Deliver(from, content); err != nil {
		if errors.Is(err, session.ErrClosed) {
			return types.NewNotFound(to)
		}
		return err
	}
	p.log.Debug().Str("from", from).Str("to", to).Int("bytes", len(content)).Msg("message delivered")
	return nil
}

// Save persists and returns the snapshot of agent id.
func (p *Pool) Save(ctx context.Context, id string) (*session.Snapshot, error) {
	if p.opts.Storage == nil {
		return nil, &types.CapabilityError{Name: "storage"}
	}
	e, err := p.live(id)
	if err != nil {
		return nil, err
	}
	defer e.end()

	snap := e.sess.Snapshot()
	if err := p.opts.Storage.Put(ctx, snapshotKey(id), snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshot returns the current state of agent id without persisting it.
func (p *Pool) Snapshot(id string) (*session.Snapshot, error) {
	e, ok := p.entry(id)
	if !ok {
		return nil, types.NewNotFound(id)
	}
	return e.sess.Snapshot(), nil
}

// Compact summarizes the older history of agent id.
func (p *Pool) Compact(ctx context.Context, id string) (*session.CompactResult, error) {
	e, err := p.live(id)
	if err != nil {
		return nil, err
	}
	defer e.end()

	res, err := e.sess.Compact(ctx)
	if errors.Is(err, session.ErrClosed) {
		return nil, types.NewNotFound(id)
	}
	if err == nil && p.opts.Persist {
		p.persist(ctx, e)
	}
	return res, err
}
