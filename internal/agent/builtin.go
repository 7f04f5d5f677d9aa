package agent

import (
	"time"

	"github.com/opencode-ai/agentpool/internal/permission"
)

func on() *bool  { v := true; return &v }
func off() *bool { v := false; return &v }

func fileTool(paths ...string) *permission.ToolPermission {
	return &permission.ToolPermission{Enabled: true, AllowedPaths: paths}
}

func disabled() *permission.ToolPermission {
	return &permission.ToolPermission{Enabled: false}
}

// BuiltInPresets returns fresh copies of the built-in presets.
func BuiltInPresets() map[string]*Preset {
	return map[string]*Preset{
		PresetSandboxed: sandboxed(),
		PresetTrusted:   trusted(),
		PresetYolo:      yolo(),
	}
}

func sandboxed() *Preset {
	return &Preset{
		Name:        PresetSandboxed,
		Description: "File tools confined to the working directory; no shell, no network, messages to the parent only",
		BuiltIn:     true,
		Rank:        10,
		Tools: map[string]*permission.ToolPermission{
			"read":  fileTool(PlaceholderCwd),
			"list":  fileTool(PlaceholderCwd),
			"glob":  fileTool(PlaceholderCwd),
			"grep":  fileTool(PlaceholderCwd),
			"write": fileTool(PlaceholderCwd),
			"edit":  fileTool(PlaceholderCwd),

			"diagnostics": fileTool(PlaceholderCwd),

			"bash":     disabled(),
			"webfetch": disabled(),

			"send_message":  {Enabled: true, AllowedTargets: permission.ParentOnly()},
			"spawn_agent":   disabled(),
			"destroy_agent": disabled(),
			"list_agents":   disabled(),

			"scratch_put": {Enabled: true},
			"scratch_get": {Enabled: true},
		},
	}
}

func trusted() *Preset {
	paths := []string{PlaceholderCwd, PlaceholderHome, PlaceholderTmp}
	confirm := func(tp *permission.ToolPermission) *permission.ToolPermission {
		tp.RequiresConfirmation = on()
		return tp
	}

	return &Preset{
		Name:        PresetTrusted,
		Description: "File tools over cwd, home and tmp; writes, shell and agent management need confirmation",
		BuiltIn:     true,
		Rank:        20,
		Tools: map[string]*permission.ToolPermission{
			"read":  fileTool(paths...),
			"list":  fileTool(paths...),
			"glob":  fileTool(paths...),
			"grep":  fileTool(paths...),
			"write": confirm(fileTool(paths...)),
			"edit":  confirm(fileTool(paths...)),

			"diagnostics": fileTool(paths...),

			"bash": confirm(&permission.ToolPermission{
				Enabled:      true,
				AllowedPaths: paths,
				Timeout:      2 * time.Minute,
			}),
			"webfetch": {Enabled: true, Timeout: 30 * time.Second, RequiresConfirmation: off()},

			"send_message":  {Enabled: true, AllowedTargets: permission.Family()},
			"spawn_agent":   {Enabled: true, AllowedPaths: paths, RequiresConfirmation: on()},
			"destroy_agent": {Enabled: true, AllowedTargets: permission.ChildrenOnly(), RequiresConfirmation: on()},
			"list_agents":   {Enabled: true},

			"scratch_put": {Enabled: true},
			"scratch_get": {Enabled: true},
		},
	}
}

func yolo() *Preset {
	return &Preset{
		Name:        PresetYolo,
		Description: "Every tool enabled with no path, target or confirmation limits",
		BuiltIn:     true,
		Rank:        30,
		Tools: map[string]*permission.ToolPermission{
			"*": {Enabled: true},
		},
	}
}
