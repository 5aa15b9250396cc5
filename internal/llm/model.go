// Package llm wraps the completion provider behind a single reply interface.
package llm

import (
	"context"
	"fmt"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model wraps a langchaingo LLM for conversation replies.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

// ModelName returns the configured model identifier.
func (m *Model) ModelName() string {
	return m.modelName
}

// GenerateReply produces the assistant reply for a conversation transcript.
func (m *Model) GenerateReply(ctx context.Context, messages []models.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}

	response, err := m.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("generate reply: no choices returned")
	}

	return response.Choices[0].Content, nil
}

func chatMessageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
