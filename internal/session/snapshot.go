package session

import (
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/registry"
	"github.com/opencode-ai/agentpool/internal/scratch"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// Snapshot is the persisted state of one agent.
type Snapshot struct {
	Version     int                          `json:"version"`
	ID          string                       `json:"id"`
	Preset      string                       `json:"preset"`
	Cwd         string                       `json:"cwd"`
	ParentID    string                       `json:"parentID,omitempty"`
	Permissions *permission.AgentPermissions `json:"permissions"`
	History     []*schema.Message            `json:"history"`
	Scratch     []scratch.Entry              `json:"scratch,omitempty"`
	Inbox       []InboxMessage               `json:"inbox,omitempty"`
	SavedAt     time.Time                    `json:"savedAt"`
}

// Snapshot captures the session's current state. Agent-scoped scratch
// entries are included when the scratch capability is registered.
func (s *Session) Snapshot() *Snapshot {
	perms := s.Permissions()

	s.mu.Lock()
	history := append([]*schema.Message(nil), s.history...)
	inbox := append([]InboxMessage(nil), s.inbox...)
	s.mu.Unlock()

	snap := &Snapshot{
		Version:     SnapshotVersion,
		ID:          s.id,
		Preset:      perms.Preset,
		Cwd:         s.cwd,
		ParentID:    perms.ParentAgentID,
		Permissions: perms,
		History:     history,
		Inbox:       inbox,
		SavedAt:     time.Now(),
	}
	if s.services != nil {
		if store, err := registry.Lookup[*scratch.Store](s.services, registry.KeyScratch); err == nil {
			snap.Scratch = store.ForAgent(s.id)
		}
	}
	return snap
}

// Validate checks the snapshot's structure before it is restored.
func (snap *Snapshot) Validate() error {
	if snap == nil {
		return types.NewValidationError("snapshot", "must not be empty")
	}
	if snap.Version > SnapshotVersion {
		return types.NewValidationError("version", "unsupported snapshot version %d", snap.Version)
	}
	if snap.ID == "" {
		return types.NewValidationError("id", "must not be empty")
	}
	if snap.Cwd == "" || !filepath.IsAbs(snap.Cwd) {
		return types.NewValidationError("cwd", "must be an absolute path, got %q", snap.Cwd)
	}
	if snap.Permissions == nil {
		return types.NewValidationError("permissions", "must not be empty")
	}

	calls := make(map[string]bool)
	for i, msg := range snap.History {
		if msg == nil {
			return types.NewValidationError("history", "message %d is empty", i)
		}
		switch msg.Role {
		case schema.User, schema.System:
		case schema.Assistant:
			for _, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return types.NewValidationError("history", "message %d has a tool call without an id", i)
				}
				calls[tc.ID] = true
			}
		case schema.Tool:
			if !calls[msg.ToolCallID] {
				return types.NewValidationError("history", "message %d answers unknown tool call %q", i, msg.ToolCallID)
			}
		default:
			return types.NewValidationError("history", "message %d has unknown role %q", i, msg.Role)
		}
	}

	for _, e := range snap.Scratch {
		if e.Scope == scratch.ScopeAgent && e.Owner != snap.ID {
			return types.NewValidationError("scratch", "entry %q belongs to agent %q", e.Key, e.Owner)
		}
	}
	return nil
}
