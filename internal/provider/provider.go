// Package provider builds the Eino chat models agents talk to.
//
// Each configured provider (anthropic, openai, ark) wraps one
// model.ToolCallingChatModel. Sessions bind their own tool set with WithTools,
// so one provider instance is shared by every agent in the pool.
package provider

import (
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Provider is a configured LLM backend.
type Provider interface {
	// ID returns the provider identifier used in "provider/model" strings.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Model returns the model id requests are sent to.
	Model() string

	// ChatModel returns the Eino ChatModel for this provider.
	ChatModel() model.ToolCallingChatModel
}

type chatProvider struct {
	id        string
	name      string
	modelID   string
	chatModel model.ToolCallingChatModel
}

func (p *chatProvider) ID() string                            { return p.id }
func (p *chatProvider) Name() string                          { return p.name }
func (p *chatProvider) Model() string                         { return p.modelID }
func (p *chatProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

// New wraps an existing chat model as a provider.
func New(id, modelID string, chatModel model.ToolCallingChatModel) Provider {
	return &chatProvider{id: id, name: id, modelID: modelID, chatModel: chatModel}
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}
