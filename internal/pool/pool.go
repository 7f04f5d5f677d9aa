package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/editor"
	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/registry"
	"github.com/opencode-ai/agentpool/internal/scratch"
	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/internal/storage"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/internal/vcs"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Options configures a Pool. Presets, Tools and Model are required.
type Options struct {
	Presets *agent.Registry
	Tools   *tool.Registry
	Model   model.ToolCallingChatModel

	// AllowedRoots restricts agent working directories; empty allows any directory.
	AllowedRoots  []string
	DefaultPreset string

	UnknownTargets permission.UnknownTargetMode
	MaxSteps       int
	Retry          session.RetryConfig

	// Prompt is the assembler template. Cwd and Sections are filled per agent.
	Prompt        prompt.Options
	InjectScratch bool

	// Storage persists snapshots under agents/<id>. Nil disables Save and Load.
	Storage *storage.Storage
	// Persist saves a snapshot after every turn.
	Persist bool

	Scratch *scratch.Store
	Editor  *editor.Bridge
	Broker  *permission.Broker
	Bus     *event.Bus
}

// CreateRequest describes a new agent.
type CreateRequest struct {
	ID       string `json:"id"`
	Preset   string `json:"preset,omitempty"`
	Cwd      string `json:"cwd"`
	ParentID string `json:"parentID,omitempty"`
}

// Pool owns every live agent.
type Pool struct {
	opts  Options
	log   zerolog.Logger
	locks *keyedLocks

	agents sync.Map // id -> *entry

	// background turns started by spawn_agent with a task.
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// entry is one live agent and the resources it owns.
type entry struct {
	id       string
	sess     *session.Session
	services *registry.Registry
	tracker  *vcs.Tracker

	mu      sync.Mutex
	closing bool
	ops     sync.WaitGroup
}

// begin registers an in-flight operation. It fails once destroy has started.
func (e *entry) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.ops.Add(1)
	return true
}

func (e *entry) end() { e.ops.Done() }

// New creates a pool.
func New(opts Options) (*Pool, error) {
	if opts.Presets == nil || opts.Tools == nil || opts.Model == nil {
		return nil, errors.New("pool: presets, tools and model are required")
	}
	if opts.DefaultPreset == "" {
		opts.DefaultPreset = agent.PresetSandboxed
	}
	if opts.UnknownTargets == "" {
		opts.UnknownTargets = permission.UnknownTargetsAllow
	}
	if opts.Bus == nil {
		opts.Bus = event.Default()
	}
	if opts.Broker == nil {
		opts.Broker = permission.NewBroker(opts.Bus)
	}
	if opts.Scratch == nil {
		opts.Scratch = scratch.New(opts.Storage)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		opts:   opts,
		log:    logging.Component("pool"),
		locks:  newKeyedLocks(),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Broker returns the confirmation broker shared by all agents.
func (p *Pool) Broker() *permission.Broker { return p.opts.Broker }

// Presets returns the preset registry.
func (p *Pool) Presets() *agent.Registry { return p.opts.Presets }

// Get returns the live session for id without locking.
func (p *Pool) Get(id string) (*session.Session, bool) {
	e, ok := p.entry(id)
	if !ok {
		return nil, false
	}
	return e.sess, true
}

func (p *Pool) entry(id string) (*entry, bool) {
	v, ok := p.agents.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// live returns the entry for id with an operation registered, or NotFound.
// The caller must call end.
func (p *Pool) live(id string) (*entry, error) {
	e, ok := p.entry(id)
	if !ok || !e.begin() {
		return nil, types.NewNotFound(id)
	}
	return e, nil
}

// Status returns the status of one agent.
func (p *Pool) Status(id string) (session.Status, error) {
	e, ok := p.entry(id)
	if !ok {
		return session.Status{}, types.NewNotFound(id)
	}
	return e.sess.Status(), nil
}

// List returns the status of every live agent, sorted by id.
func (p *Pool) List() []session.Status {
	var out []session.Status
	p.agents.Range(func(_, v any) bool {
		out = append(out, v.(*entry).sess.Status())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live agents.
func (p *Pool) Len() int {
	n := 0
	p.agents.Range(func(_, _ any) bool { n++; return true })
	return n
}

// ParentID implements registry.Relations from live permissions.
func (p *Pool) ParentID(id string) string {
	if e, ok := p.entry(id); ok {
		return e.sess.ParentID()
	}
	return ""
}

// ChildIDs implements registry.Relations from live permissions.
func (p *Pool) ChildIDs(id string) []string {
	if e, ok := p.entry(id); ok {
		return e.sess.ChildIDs()
	}
	return nil
}

var _ registry.Relations = (*Pool)(nil)

// Close destroys every live agent and waits for background turns.
// Snapshots are left in storage.
func (p *Pool) Close(ctx context.Context) error {
	p.cancel()

	var ids []string
	p.agents.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := p.Destroy(ctx, id); err != nil && !errors.Is(err, types.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.log.Warn().Msg("background turns still running at shutdown")
	}
	return errors.Join(errs...)
}
