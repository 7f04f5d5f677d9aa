package prompt

import (
	"os"
	"path/filepath"
)

// Layer names.
const (
	LayerSystemDefaults = "system-defaults"
	LayerGlobal         = "global"
	LayerLocal          = "local"
	layerAncestorPrefix = "ancestor:"
)

// ContextLayer is one source of instructions merged into the base prompt.
type ContextLayer struct {
	Name string `json:"name"`
	Dir  string `json:"dir,omitempty"`
	// Prompt holds instruction text; Documentation holds wrapped reference text.
	// At most one of them is set.
	Prompt        string `json:"prompt,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	Source        string `json:"source,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
}

// Text returns the layer's contribution to the base prompt.
func (l ContextLayer) Text() string {
	if l.Prompt != "" {
		return l.Prompt
	}
	return l.Documentation
}

func layerFromMatch(name, dir string, m *match) ContextLayer {
	l := ContextLayer{Name: name, Dir: dir, Source: m.path, Candidate: m.candidate.Name}
	if m.candidate.Documentation {
		l.Documentation = wrapDocumentation(m.path, m.content)
	} else {
		l.Prompt = m.content
	}
	return l
}

// ancestorDirs lists the directories above cwd that contribute layers,
// outermost first. The walk ends below home and the filesystem root; with
// stopAtGitRoot it ends at (and includes) the enclosing repository root.
func ancestorDirs(cwd, home string, stopAtGitRoot bool) []string {
	if stopAtGitRoot && isGitRoot(cwd) {
		return nil
	}

	var dirs []string
	dir := filepath.Dir(cwd)
	for dir != cwd {
		if dir == home || dir == filepath.Dir(dir) {
			break
		}
		dirs = append(dirs, dir)
		if stopAtGitRoot && isGitRoot(dir) {
			break
		}
		cwd, dir = dir, filepath.Dir(dir)
	}

	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs
}

func isGitRoot(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// discover builds every layer except system-defaults. Layers without a
// matching file are omitted.
func discover(opts Options) ([]ContextLayer, error) {
	var layers []ContextLayer

	add := func(name, dir string) error {
		m, err := search(dir, opts.Candidates)
		if err != nil || m == nil {
			return err
		}
		layers = append(layers, layerFromMatch(name, dir, m))
		return nil
	}

	if opts.GlobalDir != "" {
		if err := add(LayerGlobal, opts.GlobalDir); err != nil {
			return nil, err
		}
	}
	for _, dir := range ancestorDirs(opts.Cwd, opts.Home, opts.StopAtGitRoot) {
		if dir == opts.GlobalDir {
			continue
		}
		if err := add(layerAncestorPrefix+dir, dir); err != nil {
			return nil, err
		}
	}
	if err := add(LayerLocal, opts.Cwd); err != nil {
		return nil, err
	}
	return layers, nil
}
