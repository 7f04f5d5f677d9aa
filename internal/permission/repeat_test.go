package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepeatGuard(t *testing.T) {
	g := NewRepeatGuard(DefaultRepeatThreshold)
	call := ToolCall{Name: "read", Args: map[string]any{"path": "a.txt"}}

	_, ok := g.Observe(call)
	assert.True(t, ok)
	_, ok = g.Observe(call)
	assert.True(t, ok)

	d, ok := g.Observe(call)
	assert.False(t, ok)
	assert.Equal(t, CheckRepeat, d.Check)

	// A different call breaks the run.
	_, ok = g.Observe(ToolCall{Name: "read", Args: map[string]any{"path": "b.txt"}})
	assert.True(t, ok)
	_, ok = g.Observe(call)
	assert.True(t, ok)

	g.Reset()
	_, ok = g.Observe(call)
	assert.True(t, ok)
}

func TestRepeatGuard_Disabled(t *testing.T) {
	var nilGuard *RepeatGuard
	_, ok := nilGuard.Observe(ToolCall{Name: "x"})
	assert.True(t, ok)

	g := NewRepeatGuard(0)
	for i := 0; i < 5; i++ {
		_, ok := g.Observe(ToolCall{Name: "x"})
		assert.True(t, ok)
	}
}
