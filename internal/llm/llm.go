// Package llm builds the chat model used to phrase agent replies.
package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/ashureev/fieldagent/internal/config"
)

// NewChatModel connects to the OpenAI-compatible endpoint in cfg. It returns
// (nil, nil) when no API key is configured so callers can run on canned
// replies alone.
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return cm, nil
}
