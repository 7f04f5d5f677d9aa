package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/registry"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// DefaultMaxSteps bounds model/tool iterations per turn.
const DefaultMaxSteps = 50

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	ID  string
	Cwd string

	// Permissions is the agent's resolved policy. The session keeps a clone.
	Permissions *permission.AgentPermissions

	Model     model.ToolCallingChatModel
	Tools     *tool.Registry
	Services  registry.View
	Assembler *prompt.Assembler
	Enforcer  *permission.Enforcer
	// Confirm approves calls whose policy requires confirmation. Nil denies them.
	Confirm permission.ConfirmFunc
	Bus     *event.Bus

	MaxSteps        int
	RepeatThreshold int
	Retry           RetryConfig

	// History seeds a restored session.
	History []*schema.Message
	Inbox   []InboxMessage
}

// InboxMessage is a message from another agent waiting for the next turn.
type InboxMessage struct {
	From    string    `json:"from"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// State is the coarse lifecycle state of a session.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateClosed  State = "closed"
)

// Status is a point-in-time view of a session.
type Status struct {
	ID        string       `json:"id"`
	Preset    string       `json:"preset"`
	Cwd       string       `json:"cwd"`
	ParentID  string       `json:"parentID,omitempty"`
	Children  []string     `json:"children,omitempty"`
	State     State        `json:"state"`
	Messages  int          `json:"messages"`
	Inbox     int          `json:"inbox"`
	Turns     int          `json:"turns"`
	Usage     prompt.Usage `json:"usage"`
	LastError string       `json:"lastError,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Session is one agent's conversation.
type Session struct {
	id       string
	cwd      string
	model    model.ToolCallingChatModel
	bound    model.ToolCallingChatModel
	tools    *tool.Registry
	services registry.View
	asm      *prompt.Assembler
	enforcer *permission.Enforcer
	confirm  permission.ConfirmFunc
	bus      *event.Bus
	log      zerolog.Logger

	maxSteps        int
	repeatThreshold int
	retry           RetryConfig
	createdAt       time.Time

	// turn is a one-slot semaphore held for the duration of a turn or compaction.
	turn chan struct{}

	permMu sync.RWMutex
	perms  *permission.AgentPermissions

	mu         sync.Mutex
	history    []*schema.Message
	inbox      []InboxMessage
	cancelTurn context.CancelFunc
	running    bool
	closed     bool
	turns      int
	usage      prompt.Usage
	lastErr    string
}

// New creates a session and binds the tools its policy enables to the model.
func New(opts Options) (*Session, error) {
	if opts.ID == "" {
		return nil, types.NewValidationError("id", "must not be empty")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("session %s: no chat model", opts.ID)
	}
	if opts.Assembler == nil || opts.Enforcer == nil || opts.Tools == nil {
		return nil, fmt.Errorf("session %s: assembler, enforcer and tools are required", opts.ID)
	}
	if opts.Permissions == nil {
		return nil, types.NewValidationError("permissions", "must not be nil")
	}
	if opts.Bus == nil {
		opts.Bus = event.Default()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.RepeatThreshold == 0 {
		opts.RepeatThreshold = permission.DefaultRepeatThreshold
	}

	perms := opts.Permissions.Clone()
	bound, err := opts.Model.WithTools(opts.Tools.ToolInfos(perms))
	if err != nil {
		return nil, fmt.Errorf("session %s: bind tools: %w", opts.ID, err)
	}

	return &Session{
		id:              opts.ID,
		cwd:             opts.Cwd,
		model:           opts.Model,
		bound:           bound,
		tools:           opts.Tools,
		services:        opts.Services,
		asm:             opts.Assembler,
		enforcer:        opts.Enforcer,
		confirm:         opts.Confirm,
		bus:             opts.Bus,
		log:             logging.Component("session").With().Str("agent", opts.ID).Logger(),
		maxSteps:        opts.MaxSteps,
		repeatThreshold: opts.RepeatThreshold,
		retry:           opts.Retry.withDefaults(),
		createdAt:       time.Now(),
		turn:            make(chan struct{}, 1),
		perms:           perms,
		history:         append([]*schema.Message(nil), opts.History...),
		inbox:           append([]InboxMessage(nil), opts.Inbox...),
	}, nil
}

// ID returns the agent id.
func (s *Session) ID() string { return s.id }

// Cwd returns the agent's working directory.
func (s *Session) Cwd() string { return s.cwd }

// Permissions returns a deep copy of the agent's permissions.
func (s *Session) Permissions() *permission.AgentPermissions {
	s.permMu.RLock()
	defer s.permMu.RUnlock()
	return s.perms.Clone()
}

// UpdatePermissions mutates the live permissions under the session's lock.
// The pool uses it to maintain parent and child links.
func (s *Session) UpdatePermissions(fn func(p *permission.AgentPermissions)) {
	s.permMu.Lock()
	defer s.permMu.Unlock()
	fn(s.perms)
}

// ParentID returns the parent agent id, "" for a root agent.
func (s *Session) ParentID() string {
	s.permMu.RLock()
	defer s.permMu.RUnlock()
	return s.perms.ParentAgentID
}

// ChildIDs returns a copy of the child agent ids.
func (s *Session) ChildIDs() []string {
	s.permMu.RLock()
	defer s.permMu.RUnlock()
	return append([]string(nil), s.perms.ChildAgentIDs...)
}

// History returns a copy of the conversation history.
func (s *Session) History() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.Message(nil), s.history...)
}

func (s *Session) appendHistory(msgs ...*schema.Message) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.mu.Unlock()
}

// Deliver queues a message from another agent for the next turn.
func (s *Session) Deliver(from, content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.inbox = append(s.inbox, InboxMessage{From: from, Content: content, Time: time.Now()})
	s.mu.Unlock()

	s.bus.Publish(event.Event{
		Type:    event.MessageDelivered,
		AgentID: s.id,
		Data:    event.MessageData{From: from, To: s.id},
	})
	return nil
}

func (s *Session) drainInbox() []InboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.inbox
	s.inbox = nil
	return msgs
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the session's state.
func (s *Session) Status() Status {
	s.permMu.RLock()
	preset, parent := s.perms.Preset, s.perms.ParentAgentID
	children := append([]string(nil), s.perms.ChildAgentIDs...)
	s.permMu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	state := StateIdle
	switch {
	case s.closed:
		state = StateClosed
	case s.running:
		state = StateRunning
	}
	return Status{
		ID:        s.id,
		Preset:    preset,
		Cwd:       s.cwd,
		ParentID:  parent,
		Children:  children,
		State:     state,
		Messages:  len(s.history),
		Inbox:     len(s.inbox),
		Turns:     s.turns,
		Usage:     s.usage,
		LastError: s.lastErr,
		CreatedAt: s.createdAt,
	}
}

// acquire takes the turn slot, waiting for a running turn to finish.
func (s *Session) acquire(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		<-s.turn
		return ErrClosed
	}
	return nil
}

func (s *Session) release() { <-s.turn }

// Cancel stops the running turn, if any, and reports whether there was one.
// Pending confirmations resolve as denials through context cancellation.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Close cancels any running turn and waits for it to finish. Further
// operations fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancelTurn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Wait for the in-flight turn or compaction to let go of the slot.
	s.turn <- struct{}{}
	<-s.turn
	return nil
}
