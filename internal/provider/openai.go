package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/opencode-ai/agentpool/pkg/types"
)

const defaultOpenAIModel = "gpt-4o"

// NewOpenAIProvider creates a provider for OpenAI and OpenAI-compatible
// endpoints. The API key falls back to OPENAI_API_KEY and the model to
// OPENAI_MODEL_ID.
func NewOpenAIProvider(ctx context.Context, cfg types.ProviderConfig) (Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	openaiCfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelID,
		// max_completion_tokens is accepted by every current model family
		MaxCompletionTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		openaiCfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, openaiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return &chatProvider{id: "openai", name: "OpenAI", modelID: modelID, chatModel: chatModel}, nil
}
