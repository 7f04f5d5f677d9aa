package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// MinMessagesToKeep is the number of recent messages compaction leaves verbatim.
const MinMessagesToKeep = 4

const maxToolOutputInSummary = 500

const compactionSystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

const summaryPrefix = "Summary of earlier conversation:\n"

// CompactResult reports what Compact did.
type CompactResult struct {
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Summary string `json:"summary,omitempty"`
}

// Compact replaces older history with a model-written summary and rebuilds
// the cached base prompt so context files edited since creation are picked up.
// It waits for a running turn to finish.
func (s *Session) Compact(ctx context.Context) (*CompactResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	history := s.History()
	res := &CompactResult{Before: len(history), After: len(history)}

	cut := compactionCut(history)
	if cut > 0 {
		summary, err := s.summarize(ctx, history[:cut])
		if err != nil {
			return nil, err
		}
		compacted := make([]*schema.Message, 0, len(history)-cut+1)
		compacted = append(compacted, schema.UserMessage(summaryPrefix+summary))
		compacted = append(compacted, history[cut:]...)

		s.mu.Lock()
		// Nothing else appends while the turn slot is held.
		s.history = compacted
		s.mu.Unlock()

		res.After = len(compacted)
		res.Summary = summary
	}

	if err := s.asm.Rebuild(); err != nil {
		return res, fmt.Errorf("rebuild system prompt: %w", err)
	}
	s.log.Info().Int("before", res.Before).Int("after", res.After).Msg("history compacted")
	return res, nil
}

// compactionCut returns the number of leading messages to summarize. The
// kept tail never starts with a tool message, so every tool result keeps its
// assistant call.
func compactionCut(history []*schema.Message) int {
	if len(history) <= MinMessagesToKeep {
		return 0
	}
	cut := len(history) - MinMessagesToKeep
	for cut > 0 && history[cut].Role == schema.Tool {
		cut--
	}
	return cut
}

func (s *Session) summarize(ctx context.Context, msgs []*schema.Message) (string, error) {
	input := []*schema.Message{
		schema.SystemMessage(compactionSystemPrompt),
		schema.UserMessage(buildSummaryPrompt(msgs)),
	}
	reply, err := s.model.Generate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	summary := strings.TrimSpace(reply.Content)
	if summary == "" {
		return "", errors.New("summarize history: model returned an empty summary")
	}
	return summary, nil
}

func buildSummaryPrompt(msgs []*schema.Message) string {
	var b strings.Builder
	b.WriteString("Please summarize the following conversation, focusing on:\n")
	b.WriteString("1. Key decisions and outcomes\n")
	b.WriteString("2. Files that were modified\n")
	b.WriteString("3. Important context for continuing the work\n\n")
	b.WriteString("---\n\n")

	for _, msg := range msgs {
		switch msg.Role {
		case schema.User:
			b.WriteString("USER:\n")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		case schema.Assistant:
			b.WriteString("ASSISTANT:\n")
			if msg.Content != "" {
				b.WriteString(msg.Content)
				b.WriteString("\n")
			}
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(&b, "[Tool: %s]\n", tc.Function.Name)
			}
		case schema.Tool:
			out := msg.Content
			if len(out) > maxToolOutputInSummary {
				out = out[:maxToolOutputInSummary] + "..."
			}
			b.WriteString(out)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Summarize our conversation above. This summary will be the only context available when the conversation continues, so preserve critical information including: what was accomplished, current work in progress, files involved, next steps, and any key user requests or constraints.")
	return b.String()
}
