package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/agentpool/internal/permission"
	"github.com/opencode-ai/agentpool/internal/registry"
	"github.com/opencode-ai/agentpool/internal/scratch"
)

// ScratchPutInput is the input of scratch_put.
type ScratchPutInput struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Scope       string `json:"scope,omitempty"`
	Description string `json:"description,omitempty"`
	Delete      bool   `json:"delete,omitempty"`
}

// ScratchGetInput is the input of scratch_get.
type ScratchGetInput struct {
	Key string `json:"key,omitempty"`
}

func scratchFrom(toolCtx *Context) (*scratch.Store, error) {
	if toolCtx == nil || toolCtx.Services == nil {
		return nil, fmt.Errorf("no service registry")
	}
	return registry.Lookup[*scratch.Store](toolCtx.Services, registry.KeyScratch)
}

// NewScratchPutTool creates the scratch_put tool.
func NewScratchPutTool() Tool {
	return NewBaseTool(
		"scratch_put",
		`Stores a value in scratch storage.

Usage:
- scope "agent" (default) is private to you and survives save/restore
- scope "shared" is visible to every agent
- Writing an existing key replaces the value and bumps its version
- delete removes the key instead of writing it
- Keys and descriptions are listed in your context; values are read with scratch_get`,
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "description": "Entry key"},
				"value": {"type": "string", "description": "Value to store"},
				"scope": {"type": "string", "enum": ["agent", "shared"], "description": "Visibility of the entry"},
				"description": {"type": "string", "description": "Short description shown in the scratch index"},
				"delete": {"type": "boolean", "description": "Remove the entry instead of writing it"}
			},
			"required": ["key"]
		}`),
		permission.Access{Action: permission.ActionWrite},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var params ScratchPutInput
			if err := decode(input, &params); err != nil {
				return nil, err
			}
			if err := required("key", params.Key); err != nil {
				return nil, err
			}
			scope, err := scratch.ParseScope(params.Scope)
			if err != nil {
				return nil, err
			}
			store, err := scratchFrom(toolCtx)
			if err != nil {
				return nil, err
			}

			if params.Delete {
				if err := store.Delete(ctx, toolCtx.AgentID, scope, params.Key); err != nil {
					return nil, err
				}
				return &Result{
					Title:  "Delete " + params.Key,
					Output: fmt.Sprintf("Deleted %s (%s).", params.Key, scope),
				}, nil
			}

			entry, err := store.Put(ctx, toolCtx.AgentID, scope, params.Key, params.Value, params.Description)
			if err != nil {
				return nil, err
			}
			return &Result{
				Title:  "Store " + entry.Key,
				Output: fmt.Sprintf("Stored %s (%s, %d bytes, version %d).", entry.Key, entry.Scope, entry.Size, entry.Version),
				Metadata: map[string]any{
					"key":     entry.Key,
					"scope":   string(entry.Scope),
					"version": entry.Version,
				},
			}, nil
		},
	)
}

// NewScratchGetTool creates the scratch_get tool.
func NewScratchGetTool() Tool {
	return NewBaseTool(
		"scratch_get",
		`Reads a value from scratch storage. Your own agent-scoped entry shadows a shared entry with the same key. Without a key, lists the entries you can see.`,
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "description": "Entry key; omit to list entries"}
			}
		}`),
		permission.Access{Action: permission.ActionRead},
		func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
			var params ScratchGetInput
			if err := decode(input, &params); err != nil {
				return nil, err
			}
			store, err := scratchFrom(toolCtx)
			if err != nil {
				return nil, err
			}

			if params.Key == "" {
				index := store.Index(toolCtx.AgentID)
				if index == "" {
					index = "Scratch storage is empty."
				}
				return &Result{Title: "Scratch", Output: index}, nil
			}

			entry, ok := store.Get(toolCtx.AgentID, params.Key)
			if !ok {
				return &Result{
					Title:  params.Key,
					Output: fmt.Sprintf("No scratch entry named %q.", params.Key),
				}, nil
			}
			return &Result{
				Title:  entry.Key,
				Output: entry.Value,
				Metadata: map[string]any{
					"scope":   string(entry.Scope),
					"owner":   entry.Owner,
					"version": entry.Version,
				},
			}, nil
		},
	)
}
