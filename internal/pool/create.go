package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/registry"
	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/internal/storage"
	"github.com/opencode-ai/agentpool/internal/vcs"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Agent ids double as storage path segments.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validateID(field, id string) error {
	if !idPattern.MatchString(id) {
		return types.NewValidationError(field, "invalid agent id %q: use letters, digits, '.', '_' or '-'", id)
	}
	return nil
}

func newAgentID() string {
	return "agent-" + strings.ToLower(ulid.Make().String())
}

func snapshotKey(id string) []string { return []string{"agents", id} }

// checkCwd resolves cwd and verifies it is a directory inside the allowed roots.
func (p *Pool) checkCwd(cwd string) (string, error) {
	if strings.TrimSpace(cwd) == "" {
		return "", types.NewValidationError("cwd", "must not be empty")
	}
	if !filepath.IsAbs(cwd) {
		return "", types.NewValidationError("cwd", "must be an absolute path, got %q", cwd)
	}
	resolved, err := permission.ResolvePath(cwd, "/")
	if err != nil {
		return "", types.NewValidationError("cwd", "%v", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", types.NewValidationError("cwd", "%v", err)
	}
	if !info.IsDir() {
		return "", types.NewValidationError("cwd", "%s is not a directory", resolved)
	}
	if len(p.opts.AllowedRoots) > 0 && !permission.WithinAny(resolved, p.opts.AllowedRoots, resolved) {
		return "", &types.PermissionDeniedError{
			Tool:   "create",
			Check:  permission.CheckPath,
			Reason: fmt.Sprintf("%s is outside the allowed roots %v", resolved, p.opts.AllowedRoots),
		}
	}
	return resolved, nil
}

// Create builds and registers a new agent. On any failure nothing is left
// behind in the pool.
func (p *Pool) Create(ctx context.Context, req CreateRequest) (*session.Session, error) {
	if req.ID == "" {
		req.ID = newAgentID()
	}
	if err := validateID("id", req.ID); err != nil {
		return nil, err
	}
	if req.ParentID != "" {
		if err := validateID("parentID", req.ParentID); err != nil {
			return nil, err
		}
		if req.ParentID == req.ID {
			return nil, types.NewValidationError("parentID", "an agent cannot be its own parent")
		}
	}
	if req.Preset == "" {
		req.Preset = p.opts.DefaultPreset
	}
	preset, err := p.opts.Presets.Resolve(req.Preset)
	if err != nil {
		return nil, err
	}
	cwd, err := p.checkCwd(req.Cwd)
	if err != nil {
		return nil, err
	}

	unlock, err := p.locks.lock(ctx, req.ID, req.ParentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, ok := p.entry(req.ID); ok {
		return nil, &types.AlreadyExistsError{Kind: "agent", ID: req.ID}
	}
	var parent *entry
	if req.ParentID != "" {
		var ok bool
		if parent, ok = p.entry(req.ParentID); !ok {
			return nil, types.NewNotFound(req.ParentID)
		}
	}

	perms := preset.Instantiate(cwd, req.ParentID)
	e, err := p.build(req.ID, cwd, perms, nil, nil)
	if err != nil {
		return nil, err
	}

	p.agents.Store(req.ID, e)
	if parent != nil {
		parent.sess.UpdatePermissions(func(pp *permission.AgentPermissions) { pp.AddChild(req.ID) })
	}

	p.opts.Bus.Publish(event.Event{
		Type:    event.AgentCreated,
		AgentID: req.ID,
		Data:    event.AgentData{Preset: preset.Name, Cwd: cwd, ParentID: req.ParentID},
	})
	p.log.Info().
		Str("agent", req.ID).
		Str("preset", preset.Name).
		Str("cwd", cwd).
		Str("parent", req.ParentID).
		Msg("agent created")

	if p.opts.Persist {
		p.persist(ctx, e)
	}
	return e.sess, nil
}

// Restore rehydrates an agent from a snapshot. The parent is not notified:
// the snapshot's relationships are taken as they were saved.
func (p *Pool) Restore(ctx context.Context, snap *session.Snapshot) (*session.Session, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := validateID("id", snap.ID); err != nil {
		return nil, err
	}
	cwd, err := p.checkCwd(snap.Cwd)
	if err != nil {
		return nil, err
	}

	unlock, err := p.locks.lock(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, ok := p.entry(snap.ID); ok {
		return nil, &types.AlreadyExistsError{Kind: "agent", ID: snap.ID}
	}

	perms := snap.Permissions.Clone()
	if perms.Preset == "" {
		perms.Preset = snap.Preset
	}
	e, err := p.build(snap.ID, cwd, perms, snap.History, snap.Inbox)
	if err != nil {
		return nil, err
	}
	if err := p.opts.Scratch.Restore(ctx, snap.ID, snap.Scratch); err != nil {
		p.release(e)
		p.opts.Scratch.DropAgent(ctx, snap.ID)
		return nil, fmt.Errorf("restore scratch entries: %w", err)
	}

	p.agents.Store(snap.ID, e)

	p.opts.Bus.Publish(event.Event{
		Type:    event.AgentRestored,
		AgentID: snap.ID,
		Data:    event.AgentData{Preset: perms.Preset, Cwd: cwd, ParentID: perms.ParentAgentID},
	})
	p.log.Info().
		Str("agent", snap.ID).
		Int("messages", len(snap.History)).
		Int("scratch", len(snap.Scratch)).
		Msg("agent restored")
	return e.sess, nil
}

// Load restores an agent from its persisted snapshot.
func (p *Pool) Load(ctx context.Context, id string) (*session.Session, error) {
	if p.opts.Storage == nil {
		return nil, &types.CapabilityError{Name: "storage"}
	}
	if err := validateID("id", id); err != nil {
		return nil, err
	}
	var snap session.Snapshot
	if err := p.opts.Storage.Get(ctx, snapshotKey(id), &snap); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &types.NotFoundError{Kind: "snapshot", ID: id}
		}
		return nil, err
	}
	return p.Restore(ctx, &snap)
}

// build wires the registry, assembler and session for one agent. Partial
// resources are released on failure.
func (p *Pool) build(id, cwd string, perms *permission.AgentPermissions, history []*schema.Message, inbox []session.InboxMessage) (*entry, error) {
	services := registry.New(id, cwd, p)
	services.Register(registry.KeyScratch, p.opts.Scratch)
	services.Register(registry.KeyAgents, &agentsCapability{pool: p})
	if p.opts.Editor != nil {
		services.Register(registry.KeyEditor, p.opts.Editor)
	}

	tracker, err := vcs.NewTracker(cwd, id, p.opts.Bus)
	if err != nil {
		p.log.Warn().Err(err).Str("agent", id).Msg("vcs tracker unavailable")
		tracker = nil
	}
	if tracker != nil {
		services.Register(registry.KeyVCS, tracker)
	}

	e := &entry{id: id, services: services, tracker: tracker}

	popts := p.opts.Prompt
	popts.Cwd = cwd
	popts.Sections = p.sections(id, cwd, tracker)
	asm, err := prompt.New(popts)
	if err != nil {
		p.release(e)
		return nil, err
	}

	confirm := p.opts.Broker.ConfirmFunc(id)
	if p.opts.Editor != nil {
		confirm = p.opts.Editor.ConfirmFunc(cwd, confirm)
	}

	sess, err := session.New(session.Options{
		ID:          id,
		Cwd:         cwd,
		Permissions: perms,
		Model:       p.opts.Model,
		Tools:       p.opts.Tools,
		Services:    services,
		Assembler:   asm,
		Enforcer: permission.NewEnforcer(p.opts.Tools.Catalog(), cwd,
			permission.WithUnknownTargets(p.opts.UnknownTargets),
			permission.WithLogger(p.log.With().Str("agent", id).Logger()),
		),
		Confirm:  confirm,
		Bus:      p.opts.Bus,
		MaxSteps: p.opts.MaxSteps,
		Retry:    p.opts.Retry,
		History:  history,
		Inbox:    inbox,
	})
	if err != nil {
		p.release(e)
		return nil, err
	}
	e.sess = sess
	return e, nil
}

// sections are the per-turn prompt blocks, in render order.
func (p *Pool) sections(id, cwd string, tracker *vcs.Tracker) []prompt.Section {
	var out []prompt.Section
	out = append(out, p.opts.Prompt.Sections...)
	if tracker != nil {
		out = append(out, prompt.Section{Name: "vcs", Render: tracker.Summary})
	}
	if p.opts.InjectScratch {
		store := p.opts.Scratch
		out = append(out, prompt.Section{Name: "scratch", Render: func(context.Context) string {
			return store.Index(id)
		}})
	}
	if bridge := p.opts.Editor; bridge != nil {
		out = append(out, prompt.Section{Name: "editor", Render: func(ctx context.Context) string {
			return bridge.Summary(ctx, cwd)
		}})
	}
	return out
}

// release frees the resources an entry owns.
func (p *Pool) release(e *entry) {
	if e.sess != nil {
		_ = e.sess.Close()
	}
	if e.tracker != nil {
		if err := e.tracker.Close(); err != nil {
			p.log.Debug().Err(err).Str("agent", e.id).Msg("close vcs tracker")
		}
	}
}

func (p *Pool) persist(ctx context.Context, e *entry) {
	if p.opts.Storage == nil {
		return
	}
	if err := p.opts.Storage.Put(context.WithoutCancel(ctx), snapshotKey(e.id), e.sess.Snapshot()); err != nil {
		p.log.Warn().Err(err).Str("agent", e.id).Msg("persist snapshot failed")
	}
}
