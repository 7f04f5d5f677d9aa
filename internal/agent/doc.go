// Package agent provides the permission presets agents are created from.
//
// A preset is an immutable template mapping tool names (or doublestar
// patterns) to permission.ToolPermission entries. Three presets are built in:
//
//   - sandboxed: file tools confined to {cwd}; bash, webfetch and agent
//     management disabled; send_message to the parent only
//   - trusted: file tools over {cwd}, {home} and {tmp}; writes, bash and
//     agent management require confirmation; send_message within the family
//   - yolo: every tool enabled without limits
//
// Custom presets overlay a base preset (sandboxed when unset) and are loaded
// from configuration with Registry.Load. Path placeholders are substituted
// by Preset.Instantiate, which produces the agent-owned deep copy.
//
// Resolve never upgrades trust: an unknown name falls back to sandboxed and
// a malformed one is rejected. Ranks order presets by trust and CheckSpawn
// uses them to stop an agent from creating a more privileged child.
package agent
