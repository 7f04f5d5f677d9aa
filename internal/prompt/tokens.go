package prompt

import (
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"

	"github.com/opencode-ai/agentpool/internal/logging"
)

// Per-message and per-tool-call framing overhead, in tokens.
const (
	messageOverhead  = 4
	toolCallOverhead = 10
)

// Estimator counts tokens in a string. Implementations must be deterministic.
type Estimator interface {
	Count(text string) int
}

// MessageTokens counts a message's content, tool calls and framing.
func MessageTokens(est Estimator, msg *schema.Message) int {
	if msg == nil {
		return 0
	}
	n := messageOverhead + est.Count(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += toolCallOverhead + est.Count(tc.Function.Name) + est.Count(tc.Function.Arguments)
	}
	return n
}

// HistoryTokens sums MessageTokens over msgs.
func HistoryTokens(est Estimator, msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += MessageTokens(est, m)
	}
	return total
}

type contentKind int

const (
	kindProse contentKind = iota
	kindCode
	kindJSON
	kindMixed
)

// HeuristicEstimator approximates BPE token counts from character and word
// counts, with separate ratios for prose, code and JSON.
type HeuristicEstimator struct{}

// Count implements Estimator.
func (HeuristicEstimator) Count(text string) int {
	if text == "" {
		return 0
	}

	chars := len(text)
	switch classify(text) {
	case kindJSON:
		return ceilDiv(chars*10, 30)
	case kindCode:
		return ceilDiv(chars*10, 32)
	case kindProse:
		byWords := ceilDiv(len(strings.Fields(text))*13, 10)
		byChars := ceilDiv(chars, 4)
		return ceilDiv(byWords*3+byChars, 4)
	default:
		byWords := ceilDiv(len(strings.Fields(text))*13, 10)
		byChars := ceilDiv(chars*10, 35)
		return ceilDiv(byWords+byChars, 2)
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func classify(text string) contentKind {
	trimmed := strings.TrimSpace(text)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		return kindJSON
	}

	lines := strings.Split(trimmed, "\n")
	code := 0
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}
		if strings.HasSuffix(l, "{") || strings.HasSuffix(l, "}") || strings.HasSuffix(l, ";") ||
			strings.HasPrefix(l, "func ") || strings.HasPrefix(l, "def ") || strings.HasPrefix(l, "import ") ||
			strings.HasPrefix(l, "//") || strings.Contains(l, " := ") || strings.Contains(l, "return ") {
			code++
		}
	}

	ratio := float64(code) / float64(len(lines))
	switch {
	case ratio > 0.3:
		return kindCode
	case ratio > 0.1:
		return kindMixed
	}
	return kindProse
}

// TiktokenEstimator counts with a BPE encoding, falling back to the
// heuristic when the encoding cannot be loaded.
type TiktokenEstimator struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenEstimator creates an estimator for encoding (cl100k_base when empty).
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenEstimator{encoding: encoding}
}

// Count implements Estimator.
func (t *TiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
		if t.err != nil {
			logging.Warn().Err(t.err).Str("encoding", t.encoding).Msg("tiktoken unavailable, using heuristic estimator")
		}
	})
	if t.err != nil || t.enc == nil {
		return HeuristicEstimator{}.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewEstimator returns the estimator named by a config value.
func NewEstimator(name string) Estimator {
	if strings.EqualFold(name, "tiktoken") {
		return NewTiktokenEstimator("")
	}
	return HeuristicEstimator{}
}
