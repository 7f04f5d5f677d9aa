package editor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// LockFile is the discovery record an editor extension writes into the lock
// directory while it is listening.
type LockFile struct {
	PID              int      `json:"pid"`
	Port             int      `json:"port"`
	AuthToken        string   `json:"authToken"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	IDEName          string   `json:"ideName,omitempty"`

	path string
}

// Path returns the file the record was read from.
func (l *LockFile) Path() string { return l.path }

var errNoEditor = errors.New("no editor is connected for this directory")

// processAlive reports whether pid exists, using signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// readLockFiles returns every well-formed lock file in dir whose process is alive.
func readLockFiles(dir string) ([]*LockFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lock"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []*LockFile
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var lf LockFile
		if err := json.Unmarshal(data, &lf); err != nil {
			continue
		}
		if lf.Port <= 0 || lf.AuthToken == "" || !processAlive(lf.PID) {
			continue
		}
		lf.path = p
		out = append(out, &lf)
	}
	return out, nil
}

// discover picks the lock file whose workspace folder most closely contains cwd.
func discover(dir, cwd string) (*LockFile, error) {
	files, err := readLockFiles(dir)
	if err != nil {
		return nil, err
	}

	var best *LockFile
	bestLen := -1
	for _, lf := range files {
		for _, folder := range lf.WorkspaceFolders {
			folder = filepath.Clean(folder)
			if !within(cwd, folder) {
				continue
			}
			if len(folder) > bestLen {
				best, bestLen = lf, len(folder)
			}
		}
	}
	if best == nil {
		return nil, errNoEditor
	}
	return best, nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
