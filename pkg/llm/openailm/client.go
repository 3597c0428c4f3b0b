// Package openailm talks to OpenAI-compatible chat completion endpoints
// (OpenAI, DeepSeek and friends).
package openailm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"merilcat/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is a wrapper around the official OpenAI Go SDK.
type Client struct {
	client   *openai.Client
	provider string
	model    string
	options  map[string]any
	buffer   int
}

// NewClient creates a client for one model.
func NewClient(provider, apiKey, model, baseURL string, options map[string]any, buffer int) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if buffer <= 0 {
		buffer = 100
	}

	client := openai.NewClient(opts...)
	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		options:  options,
		buffer:   buffer,
	}
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) IsTransientError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return llm.IsTransientMessage(err)
}

func (c *Client) params(messages []llm.Message) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: convertMessages(messages),
	}
	if t, ok := c.options["temperature"].(float64); ok {
		params.Temperature = openai.Float(t)
	}
	if p, ok := c.options["top_p"].(float64); ok {
		params.TopP = openai.Float(p)
	}
	if n, ok := c.options["max_tokens"].(float64); ok {
		params.MaxTokens = openai.Int(int64(n))
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	return params
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, c.buffer)
	params := c.params(messages)

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	// Surface request errors (auth, rate limit) synchronously so the
	// fallback client can react to them.
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			err = fmt.Errorf("%s: empty stream", c.provider)
		}
		return nil, err
	}

	go func() {
		defer close(chunkCh)
		defer stream.Close()

		var finishReason string
		var usage *llm.Usage
		var thinking strings.Builder

		for {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
					CachedTokens:     int(chunk.Usage.PromptTokensDetails.CachedTokens),
				}
			}

			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				// DeepSeek reasoning models stream their chain of thought in
				// a non-standard field.
				if thought := reasoningContent(choice.Delta.RawJSON()); thought != "" {
					thinking.WriteString(thought)
					chunkCh <- llm.NewThinkingChunk(thought)
				}
				if choice.Delta.Content != "" {
					chunkCh <- llm.NewTextChunk(choice.Delta.Content)
				}
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}

			if !stream.Next() {
				break
			}
		}

		if thinking.Len() > 0 {
			slog.Debug("Captured full thinking process", "provider", c.provider, "content", thinking.String())
		}

		if err := stream.Err(); err != nil {
			chunkCh <- llm.NewErrorChunk(fmt.Errorf("%s stream: %w", c.provider, err))
			return
		}

		reason := normalizeStopReason(finishReason)
		if usage != nil {
			usage.StopReason = reason
		}
		llm.LogUsage(c.provider, c.model, usage)
		chunkCh <- llm.NewFinalChunk(reason, usage)
	}()

	return chunkCh, nil
}

func reasoningContent(raw string) string {
	if raw == "" {
		return ""
	}
	return jsoniter.Get([]byte(raw), "reasoning_content").ToString()
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// normalizeStopReason converts OpenAI-specific finish_reason to
// a standardized lowercase format.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "", "stop":
		return llm.StopReasonStop
	case "length":
		return llm.StopReasonLength
	default:
		return reason
	}
}
