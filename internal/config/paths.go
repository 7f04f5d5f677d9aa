package config

import (
	"os"
	"path/filepath"
)

const appDir = "agentpool"

// Paths are the per-user directories agentpool reads and writes.
type Paths struct {
	Data   string // snapshots, scratch storage, editor lock files
	Config string // global agentpool.json and instruction files
	Cache  string
	State  string // logs
}

// GetPaths resolves the XDG base directories, falling back to the usual
// dot-directories under $HOME.
func GetPaths() *Paths {
	return &Paths{
		Data:   xdgDir("XDG_DATA_HOME", ".local", "share"),
		Config: xdgDir("XDG_CONFIG_HOME", ".config"),
		Cache:  xdgDir("XDG_CACHE_HOME", ".cache"),
		State:  xdgDir("XDG_STATE_HOME", ".local", "state"),
	}
}

func xdgDir(env string, fallback ...string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appDir)
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(append(append([]string{home}, fallback...), appDir)...)
}

// EnsurePaths creates all four directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the root of the JSON file store.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// EditorLockDir is where editor extensions drop their lock files.
func (p *Paths) EditorLockDir() string {
	return filepath.Join(p.Data, "ide")
}

// LogPath returns the default log file path.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "agentpool.log")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetConfigDir(), "agentpool.json")
}
