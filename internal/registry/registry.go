// Package registry is the per-agent service container handed to tools.
//
// Tools never see an agent's permissions. They get a read-only View exposing
// the working directory, the agent's relationships and named capabilities.
// Looking up a capability that was never wired fails with a CapabilityError
// naming it.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opencode-ai/agentpool/pkg/types"
)

// Well-known capability keys.
const (
	KeyEditor  = "editor"
	KeyScratch = "scratch"
	KeyVCS     = "vcs"
	KeyAgents  = "agents"
)

// Relations answers relationship queries. The pool implements it from the
// live agents' permissions, so answers always reflect current state.
type Relations interface {
	ParentID(agentID string) string
	ChildIDs(agentID string) []string
}

// View is the read-only side of a Registry.
type View interface {
	AgentID() string
	Cwd() string
	Get(key string) (any, error)
	ParentID() string
	ChildIDs() []string
}

// Registry holds one agent's services.
type Registry struct {
	agentID   string
	cwd       string
	relations Relations

	mu       sync.RWMutex
	services map[string]any
}

var _ View = (*Registry)(nil)

// New creates a registry for agentID rooted at cwd.
func New(agentID, cwd string, relations Relations) *Registry {
	return &Registry{
		agentID:   agentID,
		cwd:       cwd,
		relations: relations,
		services:  make(map[string]any),
	}
}

// Register wires a capability. Registering nil removes it.
func (r *Registry) Register(key string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if svc == nil {
		delete(r.services, key)
		return
	}
	r.services[key] = svc
}

// AgentID returns the owning agent's id.
func (r *Registry) AgentID() string { return r.agentID }

// Cwd returns the agent's working directory.
func (r *Registry) Cwd() string { return r.cwd }

// Get returns the capability under key.
func (r *Registry) Get(key string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[key]
	if !ok {
		return nil, &types.CapabilityError{Name: key}
	}
	return svc, nil
}

// Has reports whether key is wired.
func (r *Registry) Has(key string) bool {
	_, err := r.Get(key)
	return err == nil
}

// Keys returns the wired capability keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParentID returns the agent's parent, or "" for a root agent.
func (r *Registry) ParentID() string {
	if r.relations == nil {
		return ""
	}
	return r.relations.ParentID(r.agentID)
}

// ChildIDs returns the agent's children.
func (r *Registry) ChildIDs() []string {
	if r.relations == nil {
		return nil
	}
	return r.relations.ChildIDs(r.agentID)
}

// Lookup returns the capability under key as a T.
func Lookup[T any](v View, key string) (T, error) {
	var zero T
	svc, err := v.Get(key)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has type %T", &types.CapabilityError{Name: key}, key, svc)
	}
	return typed, nil
}
