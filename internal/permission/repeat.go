package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DefaultRepeatThreshold is the number of identical consecutive calls that trips the guard.
const DefaultRepeatThreshold = 3

// RepeatGuard detects a model stuck issuing the same tool call over and over
// within one turn. It is owned by a single turn and not safe for concurrent use.
type RepeatGuard struct {
	threshold int
	last      string
	count     int
}

// NewRepeatGuard creates a guard; threshold <= 1 disables it.
func NewRepeatGuard(threshold int) *RepeatGuard {
	return &RepeatGuard{threshold: threshold}
}

// Observe records call and returns a denial when it is the threshold-th
// identical call in a row.
func (g *RepeatGuard) Observe(call ToolCall) (Decision, bool) {
	if g == nil || g.threshold <= 1 {
		return Decision{}, true
	}

	h := hashCall(call)
	if h == g.last {
		g.count++
	} else {
		g.last, g.count = h, 1
	}

	if g.count >= g.threshold {
		return deny(call.Name, CheckRepeat, "identical call repeated %d times in a row", g.count), false
	}
	return Decision{}, true
}

// Reset forgets the call history, at the start of a turn.
func (g *RepeatGuard) Reset() {
	if g == nil {
		return
	}
	g.last, g.count = "", 0
}

func hashCall(call ToolCall) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  call.Name,
		"input": call.Args,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
