package permission

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrDynamicPath is returned for paths that depend on shell expansion.
var ErrDynamicPath = errors.New("path depends on a shell variable")

// ResolvePath makes path absolute against cwd, cleans it and evaluates
// symlinks. For paths that do not exist yet the nearest existing ancestor is
// evaluated and the remainder re-attached, so a symlinked parent cannot hide
// an escape.
func ResolvePath(path, cwd string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "."
	}

	home, _ := os.UserHomeDir()
	switch {
	case path == "~" || strings.HasPrefix(path, "~/"):
		path = home + path[1:]
	case path == "$HOME" || strings.HasPrefix(path, "$HOME/"):
		path = home + path[len("$HOME"):]
	case path == "$PWD" || strings.HasPrefix(path, "$PWD/"):
		path = cwd + path[len("$PWD"):]
	}
	if strings.Contains(path, "$") {
		return "", ErrDynamicPath
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	return evalNearest(filepath.Clean(path)), nil
}

func evalNearest(path string) string {
	cur := path
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			rel, err := filepath.Rel(cur, path)
			if err != nil {
				return path
			}
			return filepath.Join(real, rel)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		cur = parent
	}
}

// IsWithinDir reports whether path is dir or lies beneath it.
func IsWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// WithinAny reports whether path is inside at least one root. Roots are
// resolved the same way as paths.
func WithinAny(path string, roots []string, cwd string) bool {
	for _, root := range roots {
		resolved, err := ResolvePath(root, cwd)
		if err != nil {
			continue
		}
		if IsWithinDir(path, resolved) {
			return true
		}
	}
	return false
}
