// Package ollama streams chat completions from a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"merilcat/pkg/llm"
)

// OllamaClient is an Ollama API client bound to one model.
type OllamaClient struct {
	client  *api.Client
	model   string
	options map[string]any
	buffer  int
}

// NewOllamaClient creates a client for model served at baseURL.
func NewOllamaClient(model, baseURL string, options map[string]any, buffer int) (*OllamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama url %q", baseURL)
	}

	// Generation time is bounded by the caller's context, not the transport.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if buffer <= 0 {
		buffer = 100
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)
	return &OllamaClient{
		client:  api.NewClient(u, &http.Client{Transport: transport}),
		model:   model,
		options: options,
		buffer:  buffer,
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

func (o *OllamaClient) IsTransientError(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return llm.IsTransientMessage(err)
}

func (o *OllamaClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, o.buffer)
	startResultCh := make(chan error, 1)

	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: convertMessages(messages),
		Options:  o.options,
		Stream:   &stream,
	}

	go func() {
		defer close(chunkCh)

		started := false
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.Message.Thinking != "" {
				chunkCh <- llm.NewThinkingChunk(resp.Message.Thinking)
			}
			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}

			if resp.Done {
				reason := resp.DoneReason
				if reason == "" {
					reason = llm.StopReasonStop
				}
				usage := &llm.Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					StopReason:       reason,
				}
				llm.LogUsage("ollama", o.model, usage)
				chunkCh <- llm.NewFinalChunk(reason, usage)
			}
			return nil
		})

		if err != nil {
			slog.Error("Stream error", "provider", "ollama", "model", o.model, "error", err)
			if !started {
				startResultCh <- err
				return
			}
			chunkCh <- llm.NewErrorChunk(fmt.Errorf("ollama stream interrupted: %w", err))
		} else if !started {
			startResultCh <- errors.New("ollama: empty stream")
		}
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

func convertMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
