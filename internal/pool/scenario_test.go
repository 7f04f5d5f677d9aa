package pool_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/event"
	"github.com/opencode-ai/agentpool/internal/pool"
	"github.com/opencode-ai/agentpool/internal/prompt"
	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/internal/tool"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// commandModel turns "call <tool> <json>" user messages into a tool call and
// acknowledges tool results with their content.
type commandModel struct {
	mu sync.Mutex
	n  int
}

func (m *commandModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	last := input[len(input)-1]
	if last.Role == schema.Tool {
		return schema.AssistantMessage("ack: "+last.Content, nil), nil
	}
	if rest, ok := strings.CutPrefix(last.Content, "call "); ok {
		name, args, _ := strings.Cut(rest, " ")
		m.mu.Lock()
		m.n++
		id := fmt.Sprintf("call-%d", m.n)
		m.mu.Unlock()
		return schema.AssistantMessage("", []schema.ToolCall{
			{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}},
		}), nil
	}
	return schema.AssistantMessage("ok: "+last.Content, nil), nil
}

func (m *commandModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *commandModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func lastToolResult(s *session.Session) string {
	history := s.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == schema.Tool {
			return history[i].Content
		}
	}
	return ""
}

var _ = Describe("Agent pool", func() {
	var (
		p   *pool.Pool
		bus *event.Bus
		dir string
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dir, err = os.MkdirTemp("", "agentpool-suite-")
		Expect(err).NotTo(HaveOccurred())

		bus = event.NewBus()
		p, err = pool.New(pool.Options{
			Presets: agent.NewRegistry(),
			Tools:   tool.DefaultRegistry(tool.Options{}),
			Model:   &commandModel{},
			Prompt: prompt.Options{
				Home:           dir,
				Candidates:     []prompt.Candidate{},
				SystemDefaults: "You are a test agent.",
			},
			Bus: bus,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(p.Close(ctx)).To(Succeed())
		bus.Close()
		os.RemoveAll(dir)
	})

	Describe("create, send and destroy", func() {
		It("links a spawned child and unlinks it on destroy", func() {
			_, err := p.Create(ctx, pool.CreateRequest{ID: "root", Preset: agent.PresetYolo, Cwd: dir})
			Expect(err).NotTo(HaveOccurred())

			res, err := p.Send(ctx, "root", `call spawn_agent {"id":"worker","preset":"sandboxed"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(ContainSubstring("Spawned agent worker"))

			Expect(p.ChildIDs("root")).To(Equal([]string{"worker"}))
			Expect(p.ParentID("worker")).To(Equal("root"))

			worker, ok := p.Get("worker")
			Expect(ok).To(BeTrue())
			Expect(worker.Permissions().Preset).To(Equal(agent.PresetSandboxed))

			By("messaging the parent from a sandboxed child")
			_, err = p.Send(ctx, "worker", `call send_message {"target":"root","message":"done"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(lastToolResult(worker)).NotTo(ContainSubstring("Permission denied"))

			st, err := p.Status("root")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Inbox).To(Equal(1))

			By("destroying the child")
			Expect(p.Destroy(ctx, "worker")).To(Succeed())
			Expect(p.ChildIDs("root")).To(BeEmpty())
			_, ok = p.Get("worker")
			Expect(ok).To(BeFalse())

			By("destroying the root")
			Expect(p.Destroy(ctx, "root")).To(Succeed())
			_, err = p.Status("root")
			Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
			Expect(p.Len()).To(Equal(0))
		})

		It("denies a sandboxed child messaging its sibling", func() {
			_, err := p.Create(ctx, pool.CreateRequest{ID: "root", Preset: agent.PresetYolo, Cwd: dir})
			Expect(err).NotTo(HaveOccurred())
			for _, id := range []string{"left", "right"} {
				_, err := p.Create(ctx, pool.CreateRequest{ID: id, Preset: agent.PresetSandboxed, Cwd: dir, ParentID: "root"})
				Expect(err).NotTo(HaveOccurred())
			}

			_, err = p.Send(ctx, "left", `call send_message {"target":"right","message":"hi"}`)
			Expect(err).NotTo(HaveOccurred())

			left, _ := p.Get("left")
			result := lastToolResult(left)
			Expect(result).To(ContainSubstring("Permission denied"))
			Expect(result).To(ContainSubstring("root"))

			st, err := p.Status("right")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Inbox).To(Equal(0))
		})

		It("denies a child without a parent with the no-parent token", func() {
			_, err := p.Create(ctx, pool.CreateRequest{ID: "solo", Preset: agent.PresetSandboxed, Cwd: dir})
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Send(ctx, "solo", `call send_message {"target":"anyone","message":"hi"}`)
			Expect(err).NotTo(HaveOccurred())

			solo, _ := p.Get("solo")
			Expect(lastToolResult(solo)).To(ContainSubstring("none"))
		})

		It("cancels the running turn when the agent is destroyed", func() {
			_, err := p.Create(ctx, pool.CreateRequest{ID: "busy", Preset: agent.PresetYolo, Cwd: dir})
			Expect(err).NotTo(HaveOccurred())

			done := make(chan *session.TurnResult, 1)
			go func() {
				defer GinkgoRecover()
				res, err := p.Send(ctx, "busy", `call bash {"command":"sleep 30"}`)
				if err == nil {
					done <- res
				} else {
					done <- nil
				}
			}()

			Eventually(func() session.State {
				st, err := p.Status("busy")
				if err != nil {
					return ""
				}
				return st.State
			}).Should(Equal(session.StateRunning))

			start := time.Now()
			Expect(p.Destroy(ctx, "busy")).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically("<", 10*time.Second))

			var res *session.TurnResult
			Eventually(done).Should(Receive(&res))
			if res != nil {
				Expect(res.Stop).To(Equal(session.StopCancelled))
			}
		})
	})

	Describe("concurrent create", func() {
		It("lets exactly one create win for the same id", func() {
			const n = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := p.Create(ctx, pool.CreateRequest{ID: "same", Cwd: dir})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, types.ErrAlreadyExists):
						conflicts++
					default:
						Fail(fmt.Sprintf("unexpected error: %v", err))
					}
				}()
			}
			wg.Wait()

			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(n - 1))
			Expect(p.Len()).To(Equal(1))
		})

		It("creates different ids in parallel", func() {
			const n = 16
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := p.Create(ctx, pool.CreateRequest{ID: fmt.Sprintf("agent-%02d", i), Cwd: dir})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(p.Len()).To(Equal(n))
			Expect(p.List()).To(HaveLen(n))
		})

		It("attaches concurrent children to one parent", func() {
			_, err := p.Create(ctx, pool.CreateRequest{ID: "root", Preset: agent.PresetYolo, Cwd: dir})
			Expect(err).NotTo(HaveOccurred())

			const n = 8
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := p.Create(ctx, pool.CreateRequest{ID: fmt.Sprintf("kid-%d", i), Cwd: dir, ParentID: "root"})
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()

			Expect(p.ChildIDs("root")).To(HaveLen(n))
		})
	})
})
