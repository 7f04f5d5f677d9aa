package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// ConfirmRequest is a pending approval for one tool call.
type ConfirmRequest struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agentID"`
	CallID     string         `json:"callID"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	TargetPath string         `json:"targetPath,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ConfirmResult is the answer to a ConfirmRequest.
type ConfirmResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ConfirmFunc asks whoever sits behind the agent to approve a call.
type ConfirmFunc func(ctx context.Context, call ToolCall, targetPath string) ConfirmResult

type pendingRequest struct {
	req  ConfirmRequest
	resp chan ConfirmResult
}

// Broker parks confirmation requests until an external party answers them.
// There is no timeout: a request resolves on Respond, on context
// cancellation, or on CancelAgent.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	bus     *event.Bus
}

// NewBroker creates a broker publishing on bus (the default bus when nil).
func NewBroker(bus *event.Bus) *Broker {
	if bus == nil {
		bus = event.Default()
	}
	return &Broker{
		pending: make(map[string]*pendingRequest),
		bus:     bus,
	}
}

// Ask blocks until the request is answered or cancelled.
func (b *Broker) Ask(ctx context.Context, req ConfirmRequest) ConfirmResult {
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	p := &pendingRequest{req: req, resp: make(chan ConfirmResult, 1)}
	b.mu.Lock()
	b.pending[req.ID] = p
	b.mu.Unlock()

	b.bus.Publish(event.Event{
		Type:    event.ConfirmationRequested,
		AgentID: req.AgentID,
		Data: event.ConfirmationData{
			RequestID:  req.ID,
			Tool:       req.Tool,
			TargetPath: req.TargetPath,
		},
	})

	var result ConfirmResult
	select {
	case result = <-p.resp:
	case <-ctx.Done():
		if b.take(req.ID) != nil {
			result = ConfirmResult{Reason: "confirmation cancelled"}
			break
		}
		// Respond or CancelAgent claimed the request first; its answer stands.
		result = <-p.resp
	}

	b.bus.Publish(event.Event{
		Type:    event.ConfirmationResolved,
		AgentID: req.AgentID,
		Data: event.ConfirmationData{
			RequestID: req.ID,
			Tool:      req.Tool,
			Approved:  result.Approved,
			Reason:    result.Reason,
		},
	})
	return result
}

func (b *Broker) take(id string) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return p
}

// Respond answers a pending request. A request that already resolved, by
// context cancellation or CancelAgent, is NotFound; once Respond succeeds the
// waiting Ask returns its result.
func (b *Broker) Respond(id string, result ConfirmResult) error {
	p := b.take(id)
	if p == nil {
		return &types.NotFoundError{Kind: "confirmation", ID: id}
	}
	p.resp <- result
	return nil
}

// CancelAgent denies every pending request of agentID and returns how many there were.
func (b *Broker) CancelAgent(agentID string) int {
	b.mu.Lock()
	var cancelled []*pendingRequest
	for id, p := range b.pending {
		if p.req.AgentID == agentID {
			cancelled = append(cancelled, p)
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()

	for _, p := range cancelled {
		p.resp <- ConfirmResult{Reason: "agent turn cancelled"}
	}
	return len(cancelled)
}

// Pending lists open requests, oldest first.
func (b *Broker) Pending() []ConfirmRequest {
	b.mu.Lock()
	out := make([]ConfirmRequest, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConfirmFunc binds the broker to one agent.
func (b *Broker) ConfirmFunc(agentID string) ConfirmFunc {
	return func(ctx context.Context, call ToolCall, targetPath string) ConfirmResult {
		return b.Ask(ctx, ConfirmRequest{
			AgentID:    agentID,
			CallID:     call.ID,
			Tool:       call.Name,
			Args:       call.Args,
			TargetPath: targetPath,
		})
	}
}
