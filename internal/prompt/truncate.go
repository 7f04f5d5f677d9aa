package prompt

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Strategy names a truncation strategy.
type Strategy string

const (
	// OldestFirst drops units from the front, after the pinned first unit.
	OldestFirst Strategy = "oldest-first"
	// MiddleOut drops units from the midpoint outward, keeping the first and latest.
	MiddleOut Strategy = "middle-out"
)

// ParseStrategy maps a config value to a Strategy, defaulting to OldestFirst.
func ParseStrategy(s string) Strategy {
	if strings.EqualFold(strings.TrimSpace(s), string(MiddleOut)) {
		return MiddleOut
	}
	return OldestFirst
}

// unit is a run of messages that must be kept or dropped together: an
// assistant message with tool calls and the tool results answering it.
type unit struct {
	msgs   []*schema.Message
	tokens int
}

func splitUnits(est Estimator, history []*schema.Message) []unit {
	var units []unit
	for _, m := range history {
		if m.Role == schema.Tool && len(units) > 0 {
			last := &units[len(units)-1]
			last.msgs = append(last.msgs, m)
			last.tokens += MessageTokens(est, m)
			continue
		}
		units = append(units, unit{msgs: []*schema.Message{m}, tokens: MessageTokens(est, m)})
	}
	return units
}

// truncate fits history into available tokens and returns the kept messages
// and how many were dropped. The latest unit is always kept; the pinned
// first unit goes only when nothing else is left to drop.
func truncate(strategy Strategy, est Estimator, history []*schema.Message, available int) ([]*schema.Message, int) {
	units := splitUnits(est, history)
	if len(units) == 0 {
		return history, 0
	}

	keep := make([]bool, len(units))
	total := 0
	for i, u := range units {
		keep[i] = true
		total += u.tokens
	}

	drop := func(i int) {
		if keep[i] {
			keep[i] = false
			total -= units[i].tokens
		}
	}

	for _, i := range dropOrder(strategy, len(units)) {
		if total <= available {
			break
		}
		drop(i)
	}
	if total > available && len(units) > 1 {
		drop(0)
	}

	kept := make([]*schema.Message, 0, len(history))
	for i, u := range units {
		if keep[i] {
			kept = append(kept, u.msgs...)
		}
	}
	return kept, len(history) - len(kept)
}

// dropOrder lists the droppable unit indexes (all but the first and last)
// in the order the strategy gives them up.
func dropOrder(strategy Strategy, n int) []int {
	if n <= 2 {
		return nil
	}

	order := make([]int, 0, n-2)
	if strategy != MiddleOut {
		for i := 1; i < n-1; i++ {
			order = append(order, i)
		}
		return order
	}

	lo, hi := 1, n-2
	mid := (lo + hi) / 2
	order = append(order, mid)
	for step := 1; len(order) < n-2; step++ {
		if r := mid + step; r <= hi {
			order = append(order, r)
		}
		if l := mid - step; l >= lo {
			order = append(order, l)
		}
	}
	return order
}
