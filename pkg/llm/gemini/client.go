// Package gemini streams chat completions from Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"merilcat/pkg/llm"
)

// GeminiClient is a Google Gemini API client bound to one model and key.
type GeminiClient struct {
	client     *genai.Client
	model      string
	useThought bool
	options    map[string]any
	buffer     int
}

// NewGeminiClient creates a Gemini client with a single model and API key.
func NewGeminiClient(ctx context.Context, apiKey, model string, useThought bool, options map[string]any, buffer int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if buffer <= 0 {
		buffer = 100
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		options:    options,
		buffer:     buffer,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

func (g *GeminiClient) IsTransientError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return llm.IsTransientMessage(err)
}

func (g *GeminiClient) generateConfig(system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}
	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if t, ok := g.options["temperature"].(float64); ok {
		cfg.Temperature = genai.Ptr(float32(t))
	}
	if p, ok := g.options["top_p"].(float64); ok {
		cfg.TopP = genai.Ptr(float32(p))
	}
	if n, ok := g.options["max_tokens"].(float64); ok {
		cfg.MaxOutputTokens = int32(n)
	}
	return cfg
}

// StreamChat implements llm.Client.
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	contents, system := convertMessages(messages)

	chunkCh := make(chan llm.StreamChunk, g.buffer)
	startResultCh := make(chan error, 1)

	slog.Debug("Streaming", "provider", "gemini", "model", g.model)

	go func() {
		defer close(chunkCh)

		iter := g.client.Models.GenerateContentStream(ctx, g.model, contents, g.generateConfig(system))

		started := false
		var usage *llm.Usage
		reason := llm.StopReasonStop

		for resp, err := range iter {
			if err != nil {
				if !started {
					startResultCh <- err
				} else {
					chunkCh <- llm.NewErrorChunk(fmt.Errorf("gemini stream interrupted: %w", err))
				}
				return
			}
			if !started {
				started = true
				startResultCh <- nil
			}

			if u := resp.UsageMetadata; u != nil {
				usage = &llm.Usage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason == genai.FinishReasonMaxTokens {
					reason = llm.StopReasonLength
				}
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part.Text == "" {
						continue
					}
					if part.Thought {
						chunkCh <- llm.NewThinkingChunk(part.Text)
					} else {
						chunkCh <- llm.NewTextChunk(part.Text)
					}
				}
			}
		}

		if !started {
			startResultCh <- errors.New("gemini: empty stream")
			return
		}
		if usage != nil {
			usage.StopReason = reason
		}
		llm.LogUsage("gemini", g.model, usage)
		chunkCh <- llm.NewFinalChunk(reason, usage)
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages splits system messages into the system instruction and
// maps the rest onto user/model turns.
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system []string

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}
