package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/config"
	"github.com/opencode-ai/agentpool/internal/editor"
	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/internal/mcp"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/pool"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/provider"
	"github.com/opencode-ai/agentpool/internal/storage"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// app is everything serve and mcp share.
type app struct {
	config   *types.Config
	presets  *agent.Registry
	bus      *event.Bus
	mcp      *mcp.Client
	pool     *pool.Pool
	provider provider.Provider
	log      zerolog.Logger
}

// loadConfig loads configuration and the preset registry for dir.
func loadConfig(dir string) (*types.Config, *agent.Registry, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	presets := agent.NewRegistry()
	if err := config.RegisterPresets(presets, cfg); err != nil {
		return nil, nil, err
	}
	if cfg.Pool.DefaultPreset != "" && !presets.Exists(cfg.Pool.DefaultPreset) {
		return nil, nil, &types.ConfigError{
			Path: "config",
			Err:  fmt.Errorf("pool.defaultPreset: unknown preset %q", cfg.Pool.DefaultPreset),
		}
	}
	return cfg, presets, nil
}

// newApp wires configuration, providers, tools, storage and the pool.
func newApp(ctx context.Context, dir string) (*app, error) {
	log := logging.Component("app")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	cfg, presets, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}

	prov, err := provider.InitializeProviders(ctx, cfg).Default()
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", prov.ID()).Str("model", prov.Model()).Msg("model selected")

	tools := tool.DefaultRegistry(tool.Options{})

	mcpClient := mcp.NewClient()
	for name, mc := range cfg.MCP {
		enabled := mc.Enabled == nil || *mc.Enabled
		err := mcpClient.AddServer(ctx, name, &mcp.Config{
			Enabled:     enabled,
			Type:        mcp.TransportType(mc.Type),
			URL:         mc.URL,
			Headers:     mc.Headers,
			Command:     mc.Command,
			Environment: mc.Environment,
			Timeout:     mc.Timeout,
		})
		if err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcp server unavailable")
		}
	}
	if n := mcp.RegisterTools(mcpClient, tools); n > 0 {
		log.Info().Int("tools", n).Msg("mcp tools registered")
	}

	var bridge *editor.Bridge
	if cfg.Editor.Enabled {
		lockDir := cfg.Editor.LockDir
		if lockDir == "" {
			lockDir = paths.EditorLockDir()
		}
		bridge = editor.New(editor.Config{LockDir: lockDir})
	}

	bus := event.NewBus()
	p, err := pool.New(pool.Options{
		Presets:        presets,
		Tools:          tools,
		Model:          prov.ChatModel(),
		AllowedRoots:   cfg.Pool.AllowedRoots,
		DefaultPreset:  cfg.Pool.DefaultPreset,
		UnknownTargets: permission.ParseUnknownTargetMode(cfg.Pool.UnknownTargets),
		MaxSteps:       cfg.Pool.MaxSteps,
		Prompt:         promptOptions(cfg.Context),
		InjectScratch:  cfg.Context.InjectScratch == nil || *cfg.Context.InjectScratch,
		Storage:        storage.New(paths.StoragePath()),
		Persist:        cfg.Pool.Persist,
		Editor:         bridge,
		Bus:            bus,
	})
	if err != nil {
		mcpClient.Close()
		bus.Close()
		return nil, err
	}

	return &app{
		config:   cfg,
		presets:  presets,
		bus:      bus,
		mcp:      mcpClient,
		pool:     p,
		provider: prov,
		log:      log,
	}, nil
}

// promptOptions builds the assembler template from the context config.
func promptOptions(cc types.ContextConfig) prompt.Options {
	opts := prompt.Options{
		GlobalDir:      config.GetConfigDir(),
		Candidates:     prompt.CandidatesFromConfig(cc.Candidates),
		StopAtGitRoot:  cc.StopAtGitRoot == nil || *cc.StopAtGitRoot,
		SystemDefaults: cc.SystemDefaults,
		ClockHeading:   cc.ClockHeading,
		Budget:         cc.Budget,
		Strategy:       prompt.ParseStrategy(cc.Strategy),
		Estimator:      prompt.NewEstimator(cc.Tokenizer),
	}
	return opts
}

// Close tears down the pool, then MCP connections and the bus.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.pool.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("pool close")
	}
	if err := a.mcp.Close(); err != nil {
		a.log.Warn().Err(err).Msg("mcp close")
	}
	a.bus.Close()
}
