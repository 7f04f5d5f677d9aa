package prompt

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestHeuristicEstimator(t *testing.T) {
	est := HeuristicEstimator{}

	assert.Zero(t, est.Count(""))
	assert.Greater(t, est.Count("hello"), 0)

	prose := strings.Repeat("the quick brown fox jumps over the lazy dog ", 20)
	code := strings.Repeat("func main() {\n\tx := 1\n\treturn x\n}\n", 20)
	json := `{"items": [` + strings.Repeat(`{"id": 1, "name": "x"},`, 20) + `{"id": 2}]}`

	assert.Equal(t, kindProse, classify(prose))
	assert.Equal(t, kindCode, classify(code))
	assert.Equal(t, kindJSON, classify(json))

	// Denser content costs more tokens per character.
	perChar := func(s string) float64 { return float64(est.Count(s)) / float64(len(s)) }
	assert.Greater(t, perChar(json), perChar(prose))

	// Deterministic.
	assert.Equal(t, est.Count(code), est.Count(code))
}

func TestMessageTokens(t *testing.T) {
	est := HeuristicEstimator{}

	plain := schema.UserMessage("hello there")
	assert.Equal(t, messageOverhead+est.Count("hello there"), MessageTokens(est, plain))

	withCall := schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "c1",
		Function: schema.FunctionCall{Name: "read", Arguments: `{"path":"main.go"}`},
	}})
	expected := messageOverhead + toolCallOverhead + est.Count("read") + est.Count(`{"path":"main.go"}`)
	assert.Equal(t, expected, MessageTokens(est, withCall))

	assert.Zero(t, MessageTokens(est, nil))
	assert.Equal(t, MessageTokens(est, plain)+MessageTokens(est, withCall), HistoryTokens(est, []*schema.Message{plain, withCall}))
}

func TestNewEstimator(t *testing.T) {
	assert.IsType(t, HeuristicEstimator{}, NewEstimator(""))
	assert.IsType(t, &TiktokenEstimator{}, NewEstimator("tiktoken"))
}
