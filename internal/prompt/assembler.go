package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentpool/internal/logging"
)

//go:embed defaults.md
var defaultSystemPrompt string

// DefaultClockHeading is the heading the wall clock is spliced under.
const DefaultClockHeading = "## Environment"

// Section contributes a per-turn block to the rendered prompt. Render
// returns "" when there is nothing to add.
type Section struct {
	Name   string
	Render func(ctx context.Context) string
}

// Options configures an Assembler.
type Options struct {
	Cwd       string
	GlobalDir string
	Home      string

	Candidates     []Candidate
	StopAtGitRoot  bool
	SystemDefaults string
	ClockHeading   string
	Clock          func() time.Time

	// Sections are rendered after the clock, in order.
	Sections []Section

	// Budget is the token ceiling for the system prompt plus history; 0 disables truncation.
	Budget    int
	Strategy  Strategy
	Estimator Estimator
}

// Rendered is a submission-ready system prompt.
type Rendered struct {
	Text   string
	Tokens int
}

// Assembler owns one session's base prompt.
type Assembler struct {
	opts Options
	log  zerolog.Logger

	mu     sync.RWMutex
	layers []ContextLayer
	base   string
	// defaultsEnd is the length of the system-defaults segment at the start of base.
	defaultsEnd int
}

// New discovers the instruction layers for opts.Cwd and caches the base prompt.
func New(opts Options) (*Assembler, error) {
	if opts.Candidates == nil {
		opts.Candidates = DefaultCandidates()
	}
	if opts.ClockHeading == "" {
		opts.ClockHeading = DefaultClockHeading
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Estimator == nil {
		opts.Estimator = HeuristicEstimator{}
	}
	if opts.Strategy == "" {
		opts.Strategy = OldestFirst
	}
	if opts.Home == "" {
		opts.Home, _ = os.UserHomeDir()
	}

	a := &Assembler{opts: opts, log: logging.Component("prompt")}
	if err := a.Rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

// Rebuild re-reads every layer and replaces the cached base prompt.
func (a *Assembler) Rebuild() error {
	found, err := discover(a.opts)
	if err != nil {
		return err
	}

	defaults := a.opts.SystemDefaults
	if defaults == "" {
		defaults = defaultSystemPrompt
	}
	defaults = strings.NewReplacer(
		"{cwd}", a.opts.Cwd,
		"{platform}", runtime.GOOS+"/"+runtime.GOARCH,
	).Replace(strings.TrimSpace(defaults))

	layers := append([]ContextLayer{{Name: LayerSystemDefaults, Prompt: defaults}}, found...)

	var sb strings.Builder
	sb.WriteString(defaults)
	defaultsEnd := sb.Len()
	for _, l := range found {
		fmt.Fprintf(&sb, "\n\n# Instructions: %s (%s)\n\n%s", l.Name, l.Candidate, l.Text())
	}

	a.mu.Lock()
	a.layers = layers
	a.base = sb.String()
	a.defaultsEnd = defaultsEnd
	a.mu.Unlock()

	a.log.Debug().Str("cwd", a.opts.Cwd).Int("layers", len(layers)).Msg("base prompt built")
	return nil
}

// Base returns the cached base prompt.
func (a *Assembler) Base() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.base
}

// Layers returns a copy of the discovered layers, system-defaults first.
func (a *Assembler) Layers() []ContextLayer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]ContextLayer(nil), a.layers...)
}

// Estimator returns the estimator used for accounting.
func (a *Assembler) Estimator() Estimator {
	return a.opts.Estimator
}

// RenderSystemPrompt produces the exact system prompt for this turn: the
// base prompt with the clock spliced under the environment heading of the
// system-defaults segment, followed by the dynamic sections.
func (a *Assembler) RenderSystemPrompt(ctx context.Context) Rendered {
	a.mu.RLock()
	base, defaultsEnd := a.base, a.defaultsEnd
	a.mu.RUnlock()

	clock := "Current time: " + a.opts.Clock().Format("2006-01-02 15:04:05 MST (Monday)")
	text := spliceClock(base, defaultsEnd, a.opts.ClockHeading, clock)

	for _, s := range a.opts.Sections {
		if s.Render == nil {
			continue
		}
		if block := strings.TrimSpace(s.Render(ctx)); block != "" {
			text += "\n\n" + block
		}
	}

	return Rendered{Text: text, Tokens: a.opts.Estimator.Count(text)}
}

// spliceClock inserts clock on the line after heading. Only lines inside
// base[:limit] are considered, so a project layer repeating the heading
// cannot capture the splice. Without a match the heading and clock are
// appended at the end.
func spliceClock(base string, limit int, heading, clock string) string {
	if limit > len(base) {
		limit = len(base)
	}

	offset := 0
	for offset < limit {
		end := strings.IndexByte(base[offset:limit], '\n')
		lineEnd := limit
		if end >= 0 {
			lineEnd = offset + end
		}
		if strings.TrimRight(base[offset:lineEnd], " \t\r") == heading {
			if lineEnd == len(base) {
				return base + "\n" + clock
			}
			return base[:lineEnd+1] + clock + "\n" + base[lineEnd+1:]
		}
		if end < 0 {
			break
		}
		offset = lineEnd + 1
	}

	return base + "\n\n" + heading + "\n" + clock
}

// Usage is the token accounting for one prepared request.
//
// System counts the rendered text alone; Total also carries the framing
// overhead of the system message.
type Usage struct {
	System  int `json:"system"`
	History int `json:"history"`
	Total   int `json:"total"`
	Budget  int `json:"budget"`
}

// Prepared is what will be sent to the model for one step.
type Prepared struct {
	System   string
	Messages []*schema.Message
	Usage    Usage
	// Dropped counts history messages left out by truncation.
	Dropped int
}

// Prepare renders the system prompt and fits history into the budget.
// The system prompt cost is taken from this render, never from the base.
func (a *Assembler) Prepare(ctx context.Context, history []*schema.Message) Prepared {
	rendered := a.RenderSystemPrompt(ctx)
	est := a.opts.Estimator

	systemCost := rendered.Tokens + messageOverhead
	kept := history
	dropped := 0
	historyTokens := HistoryTokens(est, history)

	if a.opts.Budget > 0 && systemCost+historyTokens > a.opts.Budget {
		kept, dropped = truncate(a.opts.Strategy, est, history, a.opts.Budget-systemCost)
		historyTokens = HistoryTokens(est, kept)
		a.log.Debug().
			Str("strategy", string(a.opts.Strategy)).
			Int("dropped", dropped).
			Int("budget", a.opts.Budget).
			Msg("history truncated")
	}

	return Prepared{
		System:   rendered.Text,
		Messages: kept,
		Usage: Usage{
			System:  rendered.Tokens,
			History: historyTokens,
			Total:   systemCost + historyTokens,
			Budget:  a.opts.Budget,
		},
		Dropped: dropped,
	}
}
