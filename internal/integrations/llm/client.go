// Package llm talks to the language model for parameter extraction, SQL
// planning and result narration.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"

	"failurebot/internal/config"
	"failurebot/internal/httpx"
)

type LLMUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Tool is a function the model may be forced to call. Properties is a JSON
// schema properties object.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// ToolCall is the tool the model chose and its raw JSON arguments.
type ToolCall struct {
	Name  string
	Input json.RawMessage
}

// Client is the provider-neutral model interface. Complete returns free
// text; SelectTool forces the model to call exactly one of tools.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, LLMUsage, error)
	SelectTool(ctx context.Context, system, user string, tools []Tool) (ToolCall, LLMUsage, error)
}

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	maxResponseTokens     = 4096
)

func NewClient(cfg config.Config) (Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL), nil
	case "anthropic", "":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.LLMModel, option.WithHTTPClient(httpx.ExternalHTTPClient())), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}
