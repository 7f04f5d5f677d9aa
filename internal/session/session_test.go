package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/registry"
	"github.com/opencode-ai/agentpool/internal/scratch"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// scriptedModel answers Generate from a queue of replies. When the queue
// runs dry it keeps returning the last reply.
type scriptedModel struct {
	mu      sync.Mutex
	replies []func(input []*schema.Message) (*schema.Message, error)
	inputs  [][]*schema.Message
	tools   []*schema.ToolInfo
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	next := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()
	return next(input)
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.tools = tools
	m.mu.Unlock()
	return m, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func text(content string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(content, nil), nil
	}
}

func callTool(id, name, args string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}},
		}), nil
	}
}

func newEchoTool() tool.Tool {
	params := json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
	return tool.NewBaseTool("echo", "Echo text back.", params, permission.Access{Action: permission.ActionRead},
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			return &tool.Result{Output: "echo: " + args.Text}, nil
		})
}

// newBlockTool returns a tool that signals started and then waits for ctx.
func newBlockTool(started chan<- string) tool.Tool {
	params := json.RawMessage(`{"type":"object","properties":{}}`)
	return tool.NewBaseTool("block", "Wait until cancelled.", params, permission.Access{Action: permission.ActionRead},
		func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
			started <- toolCtx.CallID
			<-ctx.Done()
			return nil, ctx.Err()
		})
}

type fixture struct {
	model    *scriptedModel
	tools    *tool.Registry
	perms    *permission.AgentPermissions
	services *registry.Registry
	bus      *event.Bus
	dir      string
}

func newFixture(t *testing.T, replies ...func([]*schema.Message) (*schema.Message, error)) *fixture {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	dir := t.TempDir()
	tools := tool.NewRegistry()
	tools.Register(newEchoTool())

	return &fixture{
		model: &scriptedModel{replies: replies},
		tools: tools,
		perms: &permission.AgentPermissions{
			Preset: "test",
			Tools: map[string]*permission.ToolPermission{
				"echo": {Enabled: true},
			},
		},
		services: registry.New("a1", dir, nil),
		bus:      bus,
		dir:      dir,
	}
}

func (f *fixture) options(t *testing.T) Options {
	t.Helper()
	asm, err := prompt.New(prompt.Options{
		Cwd:            f.dir,
		Home:           f.dir,
		Candidates:     []prompt.Candidate{},
		SystemDefaults: "You are a test agent.",
	})
	require.NoError(t, err)

	return Options{
		ID:          "a1",
		Cwd:         f.dir,
		Permissions: f.perms,
		Model:       f.model,
		Tools:       f.tools,
		Services:    f.services,
		Assembler:   asm,
		Enforcer:    permission.NewEnforcer(f.tools.Catalog(), f.dir),
		Bus:         f.bus,
		Retry:       RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := New(f.options(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSend_PlainReply(t *testing.T) {
	f := newFixture(t, text("hello there"))
	s := f.session(t)

	res, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, "hello there", res.Content)
	assert.Equal(t, StopCompleted, res.Stop)
	assert.Equal(t, 1, res.Steps)
	assert.Positive(t, res.Usage.System)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, schema.Assistant, history[1].Role)

	// The system prompt goes to the model but never into history.
	input := f.model.inputs[0]
	require.NotEmpty(t, input)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Contains(t, input[0].Content, "You are a test agent.")
}

func TestNew_BindsEnabledToolsOnly(t *testing.T) {
	f := newFixture(t, text("ok"))
	f.tools.Register(newBlockTool(make(chan string)))
	f.session(t)

	require.Len(t, f.model.tools, 1)
	assert.Equal(t, "echo", f.model.tools[0].Name)
}

func TestSend_ExecutesToolCalls(t *testing.T) {
	f := newFixture(t,
		callTool("c1", "echo", `{"text":"ping"}`),
		text("done"),
	)
	s := f.session(t)

	res, err := s.Send(context.Background(), "use the tool")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 1, res.ToolCalls)

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, schema.Tool, history[2].Role)
	assert.Equal(t, "c1", history[2].ToolCallID)
	assert.Equal(t, "echo: ping", history[2].Content)
}

func TestSend_AssignsMissingCallIDs(t *testing.T) {
	f := newFixture(t,
		callTool("", "echo", `{"text":"x"}`),
		text("done"),
	)
	s := f.session(t)

	_, err := s.Send(context.Background(), "go")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history[1].ToolCalls, 1)
	id := history[1].ToolCalls[0].ID
	assert.NotEmpty(t, id)
	assert.Equal(t, id, history[2].ToolCallID)
}

func TestSend_DenialBecomesToolResult(t *testing.T) {
	f := newFixture(t,
		callTool("c1", "rm_everything", `{}`),
		text("ok, I can't"),
	)
	s := f.session(t)

	denied := make(chan event.Event, 1)
	unsub := f.bus.Subscribe(event.ToolDenied, func(e event.Event) { denied <- e })
	defer unsub()

	res, err := s.Send(context.Background(), "delete it all")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, res.Stop)

	history := s.History()
	require.Len(t, history, 4)
	assert.Contains(t, history[2].Content, "Permission denied")
	assert.Contains(t, history[2].Content, "unknown tool")

	select {
	case e := <-denied:
		data := e.Data.(event.ToolData)
		assert.Equal(t, permission.CheckEnabled, data.Check)
		assert.Equal(t, "c1", data.CallID)
	case <-time.After(time.Second):
		t.Fatal("no tool.denied event")
	}
}

func TestSend_MalformedArguments(t *testing.T) {
	f := newFixture(t,
		callTool("c1", "echo", `{"text":`),
		text("sorry"),
	)
	s := f.session(t)

	_, err := s.Send(context.Background(), "go")
	require.NoError(t, err)
	assert.Contains(t, s.History()[2].Content, "invalid arguments for echo")
}

func TestSend_RepeatGuardDeniesIdenticalCalls(t *testing.T) {
	f := newFixture(t,
		callTool("c1", "echo", `{"text":"again"}`),
		callTool("c2", "echo", `{"text":"again"}`),
		callTool("c3", "echo", `{"text":"again"}`),
		text("stopping"),
	)
	s := f.session(t)

	_, err := s.Send(context.Background(), "loop")
	require.NoError(t, err)

	var results []string
	for _, msg := range s.History() {
		if msg.Role == schema.Tool {
			results = append(results, msg.Content)
		}
	}
	require.Len(t, results, 3)
	assert.Equal(t, "echo: again", results[0])
	assert.Equal(t, "echo: again", results[1])
	assert.Contains(t, results[2], "repeated 3 times")
}

func TestSend_Confirmation(t *testing.T) {
	tests := []struct {
		name    string
		confirm permission.ConfirmFunc
		want    string
	}{
		{
			name: "approved",
			confirm: func(ctx context.Context, call permission.ToolCall, target string) permission.ConfirmResult {
				return permission.ConfirmResult{Approved: true}
			},
			want: "echo: hi",
		},
		{
			name: "rejected",
			confirm: func(ctx context.Context, call permission.ToolCall, target string) permission.ConfirmResult {
				return permission.ConfirmResult{Reason: "not now"}
			},
			want: "Rejected: not now",
		},
		{
			name: "nobody to ask",
			want: "confirmation required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, callTool("c1", "echo", `{"text":"hi"}`), text("done"))
			yes := true
			f.perms.Tools["echo"].RequiresConfirmation = &yes

			opts := f.options(t)
			opts.Confirm = tt.confirm
			s, err := New(opts)
			require.NoError(t, err)
			defer s.Close()

			_, err = s.Send(context.Background(), "go")
			require.NoError(t, err)
			assert.Contains(t, s.History()[2].Content, tt.want)
		})
	}
}

func TestSend_ToolTimeout(t *testing.T) {
	started := make(chan string, 1)
	f := newFixture(t, callTool("c1", "block", `{}`), text("moving on"))
	f.tools.Register(newBlockTool(started))
	f.perms.Tools["block"] = &permission.ToolPermission{Enabled: true, Timeout: 20 * time.Millisecond}
	s := f.session(t)

	res, err := s.Send(context.Background(), "wait")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, res.Stop)
	assert.Contains(t, s.History()[2].Content, "timed out after 20ms")
}

func TestSend_DrainsInbox(t *testing.T) {
	f := newFixture(t, text("got it"))
	s := f.session(t)

	require.NoError(t, s.Deliver("root", "please check the logs"))
	assert.Equal(t, 1, s.Status().Inbox)

	_, err := s.Send(context.Background(), "")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Message from agent root:\nplease check the logs", history[0].Content)
	assert.Equal(t, 0, s.Status().Inbox)
}

func TestSend_EmptyContentRejected(t *testing.T) {
	f := newFixture(t, text("unused"))
	s := f.session(t)

	_, err := s.Send(context.Background(), "   ")
	var vErr *types.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, 0, f.model.calls())
}

func TestSend_RetriesTransientErrors(t *testing.T) {
	failures := 0
	f := newFixture(t,
		func([]*schema.Message) (*schema.Message, error) {
			failures++
			return nil, errors.New("503 overloaded")
		},
		text("recovered"),
	)
	s := f.session(t)

	res, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Content)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, f.model.calls())
}

func TestSend_FailsAfterRetries(t *testing.T) {
	f := newFixture(t, func([]*schema.Message) (*schema.Message, error) {
		return nil, errors.New("401 unauthorized")
	})
	s := f.session(t)

	_, err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")
	assert.Equal(t, 3, f.model.calls())
	assert.Contains(t, s.Status().LastError, "401")
}

func TestSend_StopsAtMaxSteps(t *testing.T) {
	n := 0
	f := newFixture(t, func([]*schema.Message) (*schema.Message, error) {
		n++
		return callTool(fmt.Sprintf("c%d", n), "echo", fmt.Sprintf(`{"text":"%d"}`, n))(nil)
	})
	opts := f.options(t)
	opts.MaxSteps = 3
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Send(context.Background(), "forever")
	require.NoError(t, err)
	assert.Equal(t, StopMaxSteps, res.Stop)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 3, res.ToolCalls)
}

func TestCancel_RecordsResultsForEveryCall(t *testing.T) {
	started := make(chan string, 1)
	f := newFixture(t, func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			{ID: "c1", Function: schema.FunctionCall{Name: "block", Arguments: `{}`}},
			{ID: "c2", Function: schema.FunctionCall{Name: "echo", Arguments: `{"text":"never"}`}},
		}), nil
	})
	f.tools.Register(newBlockTool(started))
	f.perms.Tools["block"] = &permission.ToolPermission{Enabled: true}
	s := f.session(t)

	assert.False(t, s.Cancel(), "nothing to cancel before a turn")

	type outcome struct {
		res *TurnResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Send(context.Background(), "block")
		done <- outcome{res, err}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool never started")
	}
	assert.True(t, s.Busy())
	assert.True(t, s.Cancel())

	var out outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after cancel")
	}
	require.NoError(t, out.err)
	assert.Equal(t, StopCancelled, out.res.Stop)
	assert.False(t, s.Busy())

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, "c1", history[2].ToolCallID)
	assert.Equal(t, "c2", history[3].ToolCallID)
	assert.Contains(t, history[3].Content, "cancelled")

	require.NoError(t, s.Snapshot().Validate())
}

func TestSend_SecondCallerWaitsForContext(t *testing.T) {
	started := make(chan string, 1)
	f := newFixture(t, callTool("c1", "block", `{}`), text("done"))
	f.tools.Register(newBlockTool(started))
	f.perms.Tools["block"] = &permission.ToolPermission{Enabled: true}
	s := f.session(t)

	go s.Send(context.Background(), "first")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Send(ctx, "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.Cancel()
}

func TestClose(t *testing.T) {
	f := newFixture(t, text("hi"))
	s := f.session(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Deliver("root", "x"), ErrClosed)
	assert.Equal(t, StateClosed, s.Status().State)
}

func TestUpdatePermissions(t *testing.T) {
	f := newFixture(t, text("hi"))
	s := f.session(t)

	s.UpdatePermissions(func(p *permission.AgentPermissions) {
		p.ParentAgentID = "root"
		p.AddChild("c1")
	})
	assert.Equal(t, "root", s.ParentID())
	assert.Equal(t, []string{"c1"}, s.ChildIDs())

	// Permissions returns a copy.
	p := s.Permissions()
	p.AddChild("c2")
	assert.Equal(t, []string{"c1"}, s.ChildIDs())
}

func TestSnapshot_IncludesAgentScratch(t *testing.T) {
	f := newFixture(t, text("hi"))
	store := scratch.New(nil)
	f.services.Register(registry.KeyScratch, store)
	s := f.session(t)

	ctx := context.Background()
	_, err := store.Put(ctx, "a1", scratch.ScopeAgent, "plan", "step 1", "")
	require.NoError(t, err)
	_, err = store.Put(ctx, "other", scratch.ScopeAgent, "plan", "not mine", "")
	require.NoError(t, err)

	_, err = s.Send(ctx, "hello")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "test", snap.Preset)
	assert.Len(t, snap.History, 2)
	require.Len(t, snap.Scratch, 1)
	assert.Equal(t, "step 1", snap.Scratch[0].Value)
	require.NoError(t, snap.Validate())
}

func TestSnapshot_Validate(t *testing.T) {
	valid := func() *Snapshot {
		return &Snapshot{
			Version:     SnapshotVersion,
			ID:          "a1",
			Cwd:         "/work",
			Permissions: &permission.AgentPermissions{Preset: "sandboxed"},
			History: []*schema.Message{
				schema.UserMessage("hi"),
				schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "read"}}}),
				schema.ToolMessage("contents", "c1"),
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(s *Snapshot)
		field  string
	}{
		{"valid", func(s *Snapshot) {}, ""},
		{"missing id", func(s *Snapshot) { s.ID = "" }, "id"},
		{"relative cwd", func(s *Snapshot) { s.Cwd = "work" }, "cwd"},
		{"no permissions", func(s *Snapshot) { s.Permissions = nil }, "permissions"},
		{"future version", func(s *Snapshot) { s.Version = 99 }, "version"},
		{"orphan tool result", func(s *Snapshot) {
			s.History = append(s.History, schema.ToolMessage("x", "c9"))
		}, "history"},
		{"unknown role", func(s *Snapshot) {
			s.History = append(s.History, &schema.Message{Role: "robot", Content: "beep"})
		}, "history"},
		{"foreign scratch", func(s *Snapshot) {
			s.Scratch = []scratch.Entry{{Key: "k", Scope: scratch.ScopeAgent, Owner: "b2"}}
		}, "scratch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := valid()
			tt.mutate(snap)
			err := snap.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *types.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestCompact(t *testing.T) {
	f := newFixture(t, text("they talked about files"))
	opts := f.options(t)
	for i := 0; i < 4; i++ {
		opts.History = append(opts.History,
			schema.UserMessage(fmt.Sprintf("question %d", i)),
			schema.AssistantMessage(fmt.Sprintf("answer %d", i), nil),
		)
	}
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, res.Before)
	assert.Equal(t, 1+MinMessagesToKeep, res.After)

	history := s.History()
	assert.Equal(t, summaryPrefix+"they talked about files", history[0].Content)
	assert.Equal(t, "question 2", history[1].Content)

	// Summarization uses the summarizer prompt, not the agent prompt.
	input := f.model.inputs[0]
	assert.Equal(t, compactionSystemPrompt, input[0].Content)
	assert.Contains(t, input[1].Content, "USER:\nquestion 0")
}

func TestCompact_ShortHistoryUntouched(t *testing.T) {
	f := newFixture(t, text("unused"))
	s := f.session(t)

	res, err := s.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Before)
	assert.Equal(t, 0, res.After)
	assert.Equal(t, 0, f.model.calls())
}

func TestCompactionCut_KeepsToolResultsWithCalls(t *testing.T) {
	history := []*schema.Message{
		schema.UserMessage("u1"),
		schema.AssistantMessage("a1", nil),
		schema.UserMessage("u2"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1"}, {ID: "c2"}}),
		schema.ToolMessage("r1", "c1"),
		schema.ToolMessage("r2", "c2"),
		schema.AssistantMessage("done", nil),
		schema.UserMessage("u3"),
	}
	// Naive cut at len-4 lands on r1; it must move back to the assistant call.
	assert.Equal(t, 3, compactionCut(history))
	assert.Equal(t, 0, compactionCut(history[:MinMessagesToKeep]))
}
