package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// StopReason tells why a turn ended.
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopCancelled StopReason = "cancelled"
	StopMaxSteps  StopReason = "max_steps"
)

// TurnResult summarizes one completed turn.
type TurnResult struct {
	// Content is the final assistant text.
	Content   string       `json:"content"`
	Steps     int          `json:"steps"`
	ToolCalls int          `json:"toolCalls"`
	Dropped   int          `json:"dropped"`
	Usage     prompt.Usage `json:"usage"`
	Stop      StopReason   `json:"stop"`
}

// RetryConfig controls model call retries.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxElapsedTime == 0 {
		c.MaxElapsedTime = 2 * time.Minute
	}
	return c
}

func (s *Session) newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	b.MaxInterval = s.retry.MaxInterval
	b.MaxElapsedTime = s.retry.MaxElapsedTime
	b.RandomizationFactor = 0.5
	return backoff.WithContext(backoff.WithMaxRetries(b, s.retry.MaxRetries), ctx)
}

// Send runs one turn. Only one turn runs at a time: a second caller waits for
// the first to finish or for its own ctx to end. Queued inter-agent messages
// are delivered ahead of content. Content may be empty when the inbox is not.
func (s *Session) Send(ctx context.Context, content string) (*TurnResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	inbox := s.drainInbox()
	if strings.TrimSpace(content) == "" && len(inbox) == 0 {
		return nil, types.NewValidationError("content", "must not be empty")
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelTurn = cancel
	s.running = true
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelTurn = nil
		s.running = false
		s.turns++
		s.mu.Unlock()
	}()

	for _, m := range inbox {
		s.appendHistory(schema.UserMessage(fmt.Sprintf("Message from agent %s:\n%s", m.From, m.Content)))
	}
	if strings.TrimSpace(content) != "" {
		s.appendHistory(schema.UserMessage(content))
	}

	s.bus.Publish(event.Event{Type: event.TurnStarted, AgentID: s.id})

	result, err := s.loop(turnCtx)

	s.mu.Lock()
	s.usage = result.Usage
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()

	data := event.TurnData{Steps: result.Steps, Dropped: result.Dropped, Tokens: result.Usage.Total}
	switch {
	case err != nil:
		data.Error = err.Error()
		s.bus.Publish(event.Event{Type: event.TurnFailed, AgentID: s.id, Data: data})
		s.log.Error().Err(err).Int("steps", result.Steps).Msg("turn failed")
		return nil, err
	case result.Stop == StopCancelled:
		s.bus.Publish(event.Event{Type: event.TurnCancelled, AgentID: s.id, Data: data})
		s.log.Info().Int("steps", result.Steps).Msg("turn cancelled")
	default:
		s.bus.Publish(event.Event{Type: event.TurnCompleted, AgentID: s.id, Data: data})
		s.log.Debug().
			Int("steps", result.Steps).
			Int("tool_calls", result.ToolCalls).
			Str("stop", string(result.Stop)).
			Msg("turn completed")
	}
	return result, nil
}

func (s *Session) loop(ctx context.Context) (*TurnResult, error) {
	result := &TurnResult{Stop: StopMaxSteps}
	guard := permission.NewRepeatGuard(s.repeatThreshold)

	for step := 0; step < s.maxSteps; step++ {
		if ctx.Err() != nil {
			result.Stop = StopCancelled
			return result, nil
		}
		result.Steps = step + 1

		prepared := s.asm.Prepare(ctx, s.History())
		result.Usage = prepared.Usage
		if prepared.Dropped > result.Dropped {
			result.Dropped = prepared.Dropped
		}

		input := make([]*schema.Message, 0, len(prepared.Messages)+1)
		input = append(input, schema.SystemMessage(prepared.System))
		input = append(input, prepared.Messages...)

		reply, err := s.generate(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				result.Stop = StopCancelled
				return result, nil
			}
			return result, fmt.Errorf("model call: %w", err)
		}

		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = "call_" + ulid.Make().String()
			}
		}
		s.appendHistory(reply)
		result.Content = reply.Content

		if len(reply.ToolCalls) == 0 {
			result.Stop = StopCompleted
			return result, nil
		}

		for i, call := range reply.ToolCalls {
			if ctx.Err() != nil {
				s.cancelRemaining(reply.ToolCalls[i:])
				result.Stop = StopCancelled
				return result, nil
			}
			out := s.runTool(ctx, guard, call)
			s.appendHistory(schema.ToolMessage(out, call.ID))
			result.ToolCalls++
		}
	}

	s.log.Warn().Int("max_steps", s.maxSteps).Msg("turn stopped at step limit")
	return result, nil
}

// generate calls the bound model, retrying transient failures.
func (s *Session) generate(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
	var reply *schema.Message
	op := func() error {
		msg, err := s.bound.Generate(ctx, input)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			s.log.Warn().Err(err).Msg("model call failed, retrying")
			return err
		}
		if msg == nil {
			return backoff.Permanent(errors.New("model returned no message"))
		}
		reply = msg
		return nil
	}
	if err := backoff.Retry(op, s.newRetryBackoff(ctx)); err != nil {
		return nil, err
	}
	return reply, nil
}

// cancelRemaining records a result for every call the model asked for but
// that never ran, so each assistant tool call keeps a matching tool message.
func (s *Session) cancelRemaining(calls []schema.ToolCall) {
	for _, call := range calls {
		s.appendHistory(schema.ToolMessage("Tool call cancelled: the turn was cancelled before it ran.", call.ID))
	}
}
