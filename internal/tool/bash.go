package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/agentpool/internal/permission"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
	// killGrace is how long a cancelled command's process group has to exit
	// before its pipes are closed.
	killGrace = 200 * time.Millisecond
)

const bashDescription = `Executes a shell command in the working directory.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000); the agent's policy may impose a shorter one
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- The whole process group is killed on timeout or cancellation`

// BashTool implements shell command execution.
type BashTool struct {
	shell string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description,omitempty"`
}

// NewBashTool creates a new bash tool. An empty shell is detected.
func NewBashTool(shell string) *BashTool {
	if shell == "" {
		shell = detectShell()
	}
	return &BashTool{shell: shell}
}

func detectShell() string {
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Access() permission.Access {
	return permission.Access{Action: permission.ActionExecute, CommandArg: "command"}
}

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := decode(input, &params); err != nil {
		return nil, err
	}
	if err := required("command", params.Command); err != nil {
		return nil, err
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = min(time.Duration(params.Timeout)*time.Millisecond, MaxBashTimeout)
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	cmd.Dir = toolCtx.Resolve(".")
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	toolCtx.SetMetadata(params.Description, map[string]any{"description": params.Description})

	output, err := cmd.CombinedOutput()

	result := string(output)
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}

	switch {
	case ctx.Err() != nil:
		result += "\n\n(Command cancelled)"
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && cmdCtx.Err() == nil {
		result += fmt.Sprintf("\n\nError: %v", err)
	}

	title := params.Description
	if title == "" {
		title = "Run command"
	}

	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"exit":        exitCode,
			"description": params.Description,
		},
	}, nil
}

func (t *BashTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
