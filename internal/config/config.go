package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/pkg/types"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config ($XDG_CONFIG_HOME/agentpool/)
// 2. Project config (<dir>/agentpool.json[c], then <dir>/.agentpool/)
// 3. AGENTPOOL_CONFIG file
// 4. AGENTPOOL_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped; malformed ones are a ConfigError.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		loaded[absPath] = true
		return nil
	}

	type source struct{ path, dir string }
	var sources []source

	globalPath := GetConfigDir()
	sources = append(sources,
		source{filepath.Join(globalPath, "agentpool.json"), globalPath},
		source{filepath.Join(globalPath, "agentpool.jsonc"), globalPath},
	)

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".agentpool")
		sources = append(sources,
			source{filepath.Join(directory, "agentpool.json"), directory},
			source{filepath.Join(directory, "agentpool.jsonc"), directory},
			source{filepath.Join(projectConfigDir, "agentpool.json"), projectConfigDir},
			source{filepath.Join(projectConfigDir, "agentpool.jsonc"), projectConfigDir},
		)
	}

	if configPath := os.Getenv("AGENTPOOL_CONFIG"); configPath != "" {
		sources = append(sources, source{configPath, filepath.Dir(configPath)})
	}

	for _, src := range sources {
		if err := loadOnce(src.path, src.dir); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("AGENTPOOL_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		data := interpolate(jsonc.ToJSON([]byte(content)), directory)
		if err := json.Unmarshal(data, &inline); err != nil {
			return nil, &types.ConfigError{Path: "AGENTPOOL_CONFIG_CONTENT", Err: err}
		}
		resolvePresetsFile(&inline, directory)
		mergeConfig(config, &inline)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &types.ConfigError{Path: path, Err: err}
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return &types.ConfigError{Path: path, Err: err}
	}
	resolvePresetsFile(&fileConfig, baseDir)

	mergeConfig(config, &fileConfig)
	return nil
}

// resolvePresetsFile makes a relative presets file path relative to the config that named it.
func resolvePresetsFile(config *types.Config, baseDir string) {
	p := config.Pool.PresetsFile
	if p == "" || baseDir == "" {
		return
	}
	config.Pool.PresetsFile = expandPath(p, baseDir)
}

func expandPath(p, baseDir string) string {
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), p[2:])
	}
	if !filepath.IsAbs(p) {
		return filepath.Join(baseDir, p)
	}
	return p
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := expandPath(filePattern.FindStringSubmatch(match)[1], baseDir)

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // left as is
		}

		// The placeholder sits inside a JSON string.
		quoted, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target. Scalars override when set,
// maps merge by key, lists replace.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	mergeServer(&target.Server, source.Server)
	mergePool(&target.Pool, source.Pool)
	mergeContext(&target.Context, source.Context)

	if source.Editor.Enabled {
		target.Editor.Enabled = true
	}
	if source.Editor.LockDir != "" {
		target.Editor.LockDir = source.Editor.LockDir
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}

	if source.Presets != nil {
		if target.Presets == nil {
			target.Presets = make(map[string]types.PresetConfig)
		}
		for k, v := range source.Presets {
			target.Presets[k] = v
		}
	}
}

func mergeServer(target *types.ServerConfig, source types.ServerConfig) {
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.Hostname != "" {
		target.Hostname = source.Hostname
	}
	if source.CORS != nil {
		target.CORS = source.CORS
	}
}

func mergePool(target *types.PoolConfig, source types.PoolConfig) {
	if source.AllowedRoots != nil {
		target.AllowedRoots = source.AllowedRoots
	}
	if source.DefaultPreset != "" {
		target.DefaultPreset = source.DefaultPreset
	}
	if source.PresetsFile != "" {
		target.PresetsFile = source.PresetsFile
	}
	if source.UnknownTargets != "" {
		target.UnknownTargets = source.UnknownTargets
	}
	if source.MaxSteps != 0 {
		target.MaxSteps = source.MaxSteps
	}
	if source.Persist {
		target.Persist = true
	}
}

func mergeContext(target *types.ContextConfig, source types.ContextConfig) {
	if source.Budget != 0 {
		target.Budget = source.Budget
	}
	if source.Strategy != "" {
		target.Strategy = source.Strategy
	}
	if source.InjectScratch != nil {
		target.InjectScratch = source.InjectScratch
	}
	if source.ClockHeading != "" {
		target.ClockHeading = source.ClockHeading
	}
	if source.Candidates != nil {
		target.Candidates = source.Candidates
	}
	if source.StopAtGitRoot != nil {
		target.StopAtGitRoot = source.StopAtGitRoot
	}
	if source.Tokenizer != "" {
		target.Tokenizer = source.Tokenizer
	}
	if source.SystemDefaults != "" {
		target.SystemDefaults = source.SystemDefaults
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) error {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("AGENTPOOL_MODEL"); model != "" {
		config.Model = model
	}
	if port := os.Getenv("AGENTPOOL_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return &types.ConfigError{Path: "AGENTPOOL_PORT", Err: fmt.Errorf("invalid port %q", port)}
		}
		config.Server.Port = n
	}
	if preset := os.Getenv("AGENTPOOL_DEFAULT_PRESET"); preset != "" {
		config.Pool.DefaultPreset = preset
	}
	if mode := os.Getenv("AGENTPOOL_UNKNOWN_TARGETS"); mode != "" {
		config.Pool.UnknownTargets = mode
	}
	return nil
}

// Validate checks enumerated values.
func Validate(config *types.Config) error {
	bad := func(field, value string, allowed ...string) error {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &types.ConfigError{Path: "config", Err: fmt.Errorf("%s: %q is not one of %v", field, value, allowed)}
	}

	if err := bad("pool.unknownTargets", config.Pool.UnknownTargets, "allow", "deny"); err != nil {
		return err
	}
	if err := bad("context.strategy", config.Context.Strategy, "oldest-first", "middle-out"); err != nil {
		return err
	}
	if err := bad("context.tokenizer", config.Context.Tokenizer, "heuristic", "tiktoken"); err != nil {
		return err
	}
	if config.Model != "" && !strings.Contains(config.Model, "/") {
		return &types.ConfigError{Path: "config", Err: fmt.Errorf("model: %q must be provider/model", config.Model)}
	}
	if config.Pool.MaxSteps < 0 {
		return &types.ConfigError{Path: "config", Err: fmt.Errorf("pool.maxSteps: must not be negative")}
	}
	for _, root := range config.Pool.AllowedRoots {
		if !filepath.IsAbs(root) {
			return &types.ConfigError{Path: "config", Err: fmt.Errorf("pool.allowedRoots: %q is not absolute", root)}
		}
	}
	return nil
}

// LoadPresetsFile reads a YAML file mapping preset names to their definitions.
func LoadPresetsFile(path string) (map[string]types.PresetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigError{Path: path, Err: err}
	}
	var presets map[string]types.PresetConfig
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, &types.ConfigError{Path: path, Err: err}
	}
	return presets, nil
}

// RegisterPresets loads the presets file and the inline presets into reg.
// Inline definitions win over the file's for the same name.
func RegisterPresets(reg *agent.Registry, config *types.Config) error {
	presets := make(map[string]types.PresetConfig)
	source := "config"

	if config.Pool.PresetsFile != "" {
		fromFile, err := LoadPresetsFile(config.Pool.PresetsFile)
		if err != nil {
			return err
		}
		for k, v := range fromFile {
			presets[k] = v
		}
		source = config.Pool.PresetsFile
	}
	for k, v := range config.Presets {
		presets[k] = v
	}
	if len(presets) == 0 {
		return nil
	}
	return reg.Load(source, presets)
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns AGENTPOOL_CONFIG_DIR, or the XDG config directory.
func GetConfigDir() string {
	if dir := os.Getenv("AGENTPOOL_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
