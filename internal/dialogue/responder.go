package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var (
	// ErrNoModel is returned when no chat model is configured.
	ErrNoModel = errors.New("no chat model configured")
	// ErrEmptyReply is returned when the model answers with blank content.
	ErrEmptyReply = errors.New("model returned empty reply")
)

// Generator produces the agent's next reply.
type Generator interface {
	Reply(ctx context.Context, system string, history []domain.Message, text string) (string, error)
}

// ResponderConfig bounds a single completion request.
type ResponderConfig struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// DefaultResponderConfig returns the request bounds used when none are configured.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		Timeout:     30 * time.Second,
		MaxTokens:   150,
		Temperature: 0.7,
	}
}

// Responder is a Generator backed by an eino chat model.
type Responder struct {
	model model.BaseChatModel
	cfg   ResponderConfig
}

// NewResponder wraps chatModel. Zero config values fall back to defaults.
func NewResponder(chatModel model.BaseChatModel, cfg ResponderConfig) *Responder {
	def := DefaultResponderConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Responder{model: chatModel, cfg: cfg}
}

// Reply sends the system instruction, history and new participant text to the
// model and returns the completion.
func (r *Responder) Reply(ctx context.Context, system string, history []domain.Message, text string) (string, error) {
	if r == nil || r.model == nil {
		return "", ErrNoModel
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(system))
	for _, m := range history {
		if m.Sender == domain.SenderParticipant {
			messages = append(messages, schema.UserMessage(m.Text))
		} else {
			messages = append(messages, schema.AssistantMessage(m.Text, nil))
		}
	}
	messages = append(messages, schema.UserMessage(text))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.model.Generate(ctx, messages,
		model.WithMaxTokens(r.cfg.MaxTokens),
		model.WithTemperature(r.cfg.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyReply
	}
	return strings.TrimSpace(resp.Content), nil
}
