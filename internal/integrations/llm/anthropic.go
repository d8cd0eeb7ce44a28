package llm

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicClient struct {
	client anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) params(system, user string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxResponseTokens,
		System: []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
}

func usageOf(message *anthropic.Message) LLMUsage {
	return LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, LLMUsage, error) {
	message, err := c.client.Messages.New(ctx, c.params(system, user))
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := usageOf(message)

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d", len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

func (c *AnthropicClient) SelectTool(ctx context.Context, system, user string, tools []Tool) (ToolCall, LLMUsage, error) {
	params := c.params(system, user)
	for _, t := range tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Properties,
					Required:   t.Required,
				},
			},
		})
	}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		log.Printf("llm anthropic tool error: %v", err)
		return ToolCall{}, LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := usageOf(message)

	for _, block := range message.Content {
		if block.Type == "tool_use" {
			log.Printf("llm anthropic tool=%s tokens_in=%d tokens_out=%d", block.Name, usage.InputTokens, usage.OutputTokens)
			return ToolCall{Name: block.Name, Input: block.Input}, usage, nil
		}
	}
	return ToolCall{}, usage, fmt.Errorf("no tool call in Anthropic response")
}
