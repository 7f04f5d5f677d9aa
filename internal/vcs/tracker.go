// Package vcs tracks the git state of an agent's working directory.
//
// Status is computed lazily with git and cached. An fsnotify watch on the git
// directory invalidates the cache whenever the index, HEAD or refs change, so
// rendering the repository section every turn costs nothing while the
// repository is idle.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/logging"
)

// Status is a snapshot of the working tree.
type Status struct {
	Branch    string   `json:"branch"`
	Staged    []string `json:"staged,omitempty"`
	Modified  []string `json:"modified,omitempty"`
	Untracked []string `json:"untracked,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Clean reports whether nothing is staged, modified or untracked.
func (s Status) Clean() bool {
	return len(s.Staged)+len(s.Modified)+len(s.Untracked)+len(s.Conflicts) == 0
}

// Tracker caches the status of one repository.
type Tracker struct {
	workDir string
	gitDir  string
	agentID string
	bus     *event.Bus
	log     zerolog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu     sync.RWMutex
	cached *Status
	// gen increments on every invalidation so a status computed across one is discarded.
	gen    uint64
	branch string
	closed bool
}

// NewTracker creates a tracker for workDir. It returns nil, nil when workDir
// is not inside a git repository.
func NewTracker(workDir, agentID string, bus *event.Bus) (*Tracker, error) {
	log := logging.Component("vcs")
	gitDir := findGitDir(workDir)
	if gitDir == "" {
		log.Debug().Str("workDir", workDir).Msg("not a git repository, tracker disabled")
		return nil, nil
	}
	if bus == nil {
		bus = event.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watching the directory catches HEAD and index replacement by rename.
	if err := w.Add(gitDir); err != nil {
		w.Close()
		return nil, err
	}
	if refs := filepath.Join(gitDir, "refs", "heads"); dirExists(refs) {
		_ = w.Add(refs)
	}

	t := &Tracker{
		workDir: workDir,
		gitDir:  gitDir,
		agentID: agentID,
		bus:     bus,
		log:     log.With().Str("agent", agentID).Logger(),
		watcher: w,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		branch:  currentBranch(workDir),
	}
	go t.run()
	return t, nil
}

func (t *Tracker) run() {
	defer close(t.doneCh)

	for {
		select {
		case <-t.stopCh:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if strings.HasSuffix(ev.Name, ".lock") {
				continue
			}
			t.Invalidate()
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Error().Err(err).Msg("vcs watcher error")
		}
	}
}

// Invalidate drops the cached status and publishes a change event when the
// branch moved.
func (t *Tracker) Invalidate() {
	branch := currentBranch(t.workDir)

	t.mu.Lock()
	t.cached = nil
	t.gen++
	prev := t.branch
	t.branch = branch
	t.mu.Unlock()

	if branch != prev {
		t.log.Info().Str("from", prev).Str("to", branch).Msg("branch changed")
		t.bus.Publish(event.Event{
			Type:    event.VcsChanged,
			AgentID: t.agentID,
			Data:    map[string]string{"branch": branch},
		})
	}
}

// Branch returns the tracked branch name.
func (t *Tracker) Branch() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.branch
}

// Status returns the cached status, computing it when stale.
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	t.mu.RLock()
	if t.cached != nil {
		s := *t.cached
		t.mu.RUnlock()
		return s, nil
	}
	gen := t.gen
	t.mu.RUnlock()

	out, err := git(ctx, t.workDir, "status", "--porcelain=v1", "-b", "--untracked-files=normal")
	if err != nil {
		return Status{}, err
	}
	s := parsePorcelain(out)

	t.mu.Lock()
	if !t.closed && t.gen == gen {
		t.cached = &s
	}
	t.mu.Unlock()
	return s, nil
}

// Summary renders the status for the system prompt, or "" when unavailable.
func (t *Tracker) Summary(ctx context.Context) string {
	if t == nil {
		return ""
	}
	s, err := t.Status(ctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("status unavailable")
		return ""
	}
	return FormatSummary(s)
}

// FormatSummary renders s as a prompt section.
func FormatSummary(s Status) string {
	var sb strings.Builder
	sb.WriteString("## Repository\n")
	fmt.Fprintf(&sb, "Branch: %s\n", s.Branch)
	if s.Clean() {
		sb.WriteString("Working tree clean")
		return sb.String()
	}

	section := func(name string, files []string) {
		if len(files) == 0 {
			return
		}
		const limit = 15
		fmt.Fprintf(&sb, "%s (%d):\n", name, len(files))
		for i, f := range files {
			if i == limit {
				fmt.Fprintf(&sb, "  ... %d more\n", len(files)-limit)
				break
			}
			fmt.Fprintf(&sb, "  %s\n", f)
		}
	}
	section("Conflicts", s.Conflicts)
	section("Staged", s.Staged)
	section("Modified", s.Modified)
	section("Untracked", s.Untracked)
	return strings.TrimRight(sb.String(), "\n")
}

// Close stops watching. It is safe to call more than once.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cached = nil
	t.mu.Unlock()

	close(t.stopCh)
	err := t.watcher.Close()
	<-t.doneCh
	return err
}

// parsePorcelain parses `git status --porcelain=v1 -b` output.
func parsePorcelain(out string) Status {
	var s Status
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			s.Branch = parseBranchLine(line[3:])
			continue
		}

		x, y, path := line[0], line[1], line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		switch {
		case x == '?' && y == '?':
			s.Untracked = append(s.Untracked, path)
		case x == 'U' || y == 'U' || (x == 'A' && y == 'A') || (x == 'D' && y == 'D'):
			s.Conflicts = append(s.Conflicts, path)
		default:
			if x != ' ' {
				s.Staged = append(s.Staged, path)
			}
			if y != ' ' {
				s.Modified = append(s.Modified, path)
			}
		}
	}
	return s
}

func parseBranchLine(rest string) string {
	if strings.HasPrefix(rest, "No commits yet on ") {
		return strings.TrimPrefix(rest, "No commits yet on ")
	}
	if i := strings.Index(rest, "..."); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.Index(rest, " "); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}

// findGitDir returns the absolute git directory for workDir, handling
// worktrees, or "" outside a repository.
func findGitDir(workDir string) string {
	out, err := git(context.Background(), workDir, "rev-parse", "--git-dir")
	if err != nil {
		return ""
	}
	gitDir := strings.TrimSpace(out)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir
}

func currentBranch(workDir string) string {
	out, err := git(context.Background(), workDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
