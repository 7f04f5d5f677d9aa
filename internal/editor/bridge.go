// Package editor connects agents to a running editor: diagnostics, open files
// and interactive diff review.
//
// Editors announce themselves by writing a lock file (JSON with pid, port,
// auth token and workspace folders) into a lock directory. The bridge picks
// the lock file whose workspace contains the agent's directory, checks that
// the owning process is alive, and talks HTTP to 127.0.0.1:<port> with the
// token in the X-Agentpool-Auth header.
//
// One Bridge is shared by every agent in a pool. ShowDiff blocks until the
// reviewer answers, and only one diff is shown at a time.
package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/logging"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// AuthHeader carries the lock file's auth token on every request.
const AuthHeader = "X-Agentpool-Auth"

// Config configures a Bridge.
type Config struct {
	LockDir    string
	HTTPClient *http.Client
	// Timeout bounds non-interactive requests. ShowDiff has no timeout.
	Timeout time.Duration
}

// Bridge is the shared editor connection.
type Bridge struct {
	lockDir string
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger

	// diffMu serializes ShowDiff across all agents.
	diffMu sync.Mutex
}

// New creates a bridge reading lock files from cfg.LockDir.
func New(cfg Config) *Bridge {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Bridge{
		lockDir: cfg.LockDir,
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
		log:     logging.Component("editor"),
	}
}

// Connection returns the live lock file serving cwd.
func (b *Bridge) Connection(cwd string) (*LockFile, error) {
	lf, err := discover(b.lockDir, cwd)
	if err != nil {
		return nil, &types.CapabilityError{Name: "editor"}
	}
	return lf, nil
}

// Available reports whether an editor serves cwd.
func (b *Bridge) Available(cwd string) bool {
	_, err := b.Connection(cwd)
	return err == nil
}

func (b *Bridge) do(ctx context.Context, lf *LockFile, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d%s", lf.Port, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set(AuthHeader, lf.AuthToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("editor request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("editor request %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Diagnostics returns diagnostics for path, or for every open file when path is empty.
func (b *Bridge) Diagnostics(ctx context.Context, cwd, path string) ([]FileDiagnostics, error) {
	lf, err := b.Connection(cwd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	endpoint := "/diagnostics"
	if path != "" {
		endpoint += "?path=" + url.QueryEscape(path)
	}
	var resp diagnosticsResponse
	if err := b.do(ctx, lf, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// OpenFiles returns the files open in the editor.
func (b *Bridge) OpenFiles(ctx context.Context, cwd string) ([]string, error) {
	lf, err := b.Connection(cwd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var resp openFilesResponse
	if err := b.do(ctx, lf, http.MethodGet, "/open-files", nil, &resp); err != nil {
		return nil, err
	}
	sort.Strings(resp.Files)
	return resp.Files, nil
}

// ShowDiff shows req in the editor and waits for the reviewer. Concurrent
// callers queue; the wait ends only on an answer or ctx cancellation.
func (b *Bridge) ShowDiff(ctx context.Context, cwd string, req DiffRequest) (DiffResult, error) {
	lf, err := b.Connection(cwd)
	if err != nil {
		return DiffResult{}, err
	}
	if req.Patch == "" {
		req.Patch = BuildPatch(req.Path, req.Old, req.New, cwd).Text
	}

	b.diffMu.Lock()
	defer b.diffMu.Unlock()

	if err := ctx.Err(); err != nil {
		return DiffResult{}, err
	}

	b.log.Debug().Str("path", req.Path).Str("label", req.Label).Msg("showing diff")
	var res DiffResult
	if err := b.do(ctx, lf, http.MethodPost, "/diff", req, &res); err != nil {
		return DiffResult{}, err
	}
	switch res.Outcome {
	case OutcomeSaved, OutcomeRejected:
	default:
		return DiffResult{}, fmt.Errorf("editor returned unknown diff outcome %q", res.Outcome)
	}
	return res, nil
}

// Summary renders diagnostics and open files for the system prompt, or ""
// when no editor serves cwd.
func (b *Bridge) Summary(ctx context.Context, cwd string) string {
	if !b.Available(cwd) {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Editor\n")

	if files, err := b.OpenFiles(ctx, cwd); err == nil && len(files) > 0 {
		sb.WriteString("Open files:\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "- %s\n", relativePath(f, cwd))
		}
	}

	diags, err := b.Diagnostics(ctx, cwd, "")
	if err != nil {
		b.log.Debug().Err(err).Msg("diagnostics unavailable")
	}
	errors, warnings := 0, 0
	var lines []string
	for _, fd := range diags {
		for _, d := range fd.Diagnostics {
			switch d.Severity {
			case SeverityError:
				errors++
			case SeverityWarning:
				warnings++
			default:
				continue
			}
			if len(lines) < 20 {
				lines = append(lines, fmt.Sprintf("- %s:%d:%d %s", relativePath(fd.Path, cwd), d.Range.Start.Line+1, d.Range.Start.Character+1, d.Message))
			}
		}
	}
	fmt.Fprintf(&sb, "Diagnostics: %d errors, %d warnings\n", errors, warnings)
	for _, l := range lines {
		sb.WriteString(l + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ConfirmFunc returns a confirmation callback that reviews file changes as a
// diff in the editor and hands every other call to fallback.
func (b *Bridge) ConfirmFunc(cwd string, fallback permission.ConfirmFunc) permission.ConfirmFunc {
	return func(ctx context.Context, call permission.ToolCall, targetPath string) permission.ConfirmResult {
		req, ok := diffForCall(call, targetPath)
		if !ok || !b.Available(cwd) {
			if fallback == nil {
				return permission.ConfirmResult{Approved: false, Reason: "no reviewer available"}
			}
			return fallback(ctx, call, targetPath)
		}

		res, err := b.ShowDiff(ctx, cwd, req)
		if err != nil {
			b.log.Warn().Err(err).Str("tool", call.Name).Msg("diff review failed")
			if fallback == nil {
				return permission.ConfirmResult{Approved: false, Reason: err.Error()}
			}
			return fallback(ctx, call, targetPath)
		}
		if res.Outcome == OutcomeRejected {
			return permission.ConfirmResult{Approved: false, Reason: "change rejected in editor"}
		}
		return permission.ConfirmResult{Approved: true}
	}
}

// diffForCall builds the review request for write and edit calls.
func diffForCall(call permission.ToolCall, targetPath string) (DiffRequest, bool) {
	if targetPath == "" {
		return DiffRequest{}, false
	}

	old := ""
	if data, err := os.ReadFile(targetPath); err == nil {
		old = string(data)
	}

	switch call.Name {
	case "write":
		content, _ := call.String("content")
		return DiffRequest{Label: "write " + targetPath, Path: targetPath, Old: old, New: content}, true
	case "edit":
		oldStr, _ := call.String("oldString")
		newStr, _ := call.String("newString")
		if oldStr == "" || !strings.Contains(old, oldStr) {
			return DiffRequest{}, false
		}
		n := 1
		if all, _ := call.Args["replaceAll"].(bool); all {
			n = -1
		}
		return DiffRequest{Label: "edit " + targetPath, Path: targetPath, Old: old, New: strings.Replace(old, oldStr, newStr, n)}, true
	}
	return DiffRequest{}, false
}
