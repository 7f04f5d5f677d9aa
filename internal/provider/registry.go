package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// Factory builds a provider from its config section.
type Factory func(ctx context.Context, cfg types.ProviderConfig) (Provider, error)

// Factories maps provider ids to constructors, in preference order for
// picking a default.
var Factories = []struct {
	ID  string
	New Factory
}{
	{"anthropic", NewAnthropicProvider},
	{"openai", NewOpenAIProvider},
	{"ark", NewArkProvider},
}

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	preferred string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, &types.NotFoundError{Kind: "provider", ID: id}
	}
	return p, nil
}

// List returns all providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Default returns the provider named by the configured model, or the first
// registered one.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.preferred != "" {
		if p, ok := r.providers[r.preferred]; ok {
			return p, nil
		}
		return nil, &types.NotFoundError{Kind: "provider", ID: r.preferred}
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no model provider configured: set an API key (ANTHROPIC_API_KEY, OPENAI_API_KEY or ARK_API_KEY)")
	}
	return r.providers[r.order[0]], nil
}

// InitializeProviders builds every provider that has credentials. The
// provider named in config.Model is preferred and gets that model id.
func InitializeProviders(ctx context.Context, config *types.Config) *Registry {
	log := logging.Component("provider")
	registry := NewRegistry()

	preferred, preferredModel := "", ""
	if config != nil && config.Model != "" {
		preferred, preferredModel = ParseModelString(config.Model)
		registry.preferred = preferred
	}

	for _, f := range Factories {
		var cfg types.ProviderConfig
		if config != nil {
			cfg = config.Provider[f.ID]
		}
		if cfg.Disable {
			continue
		}
		if f.ID == preferred && preferredModel != "" {
			cfg.Model = preferredModel
		}
		p, err := f.New(ctx, cfg)
		if err != nil {
			if f.ID == preferred {
				log.Warn().Err(err).Str("provider", f.ID).Msg("configured provider unavailable")
			} else {
				log.Debug().Err(err).Str("provider", f.ID).Msg("provider skipped")
			}
			continue
		}
		registry.Register(p)
		log.Debug().Str("provider", p.ID()).Str("model", p.Model()).Msg("provider ready")
	}
	return registry
}
