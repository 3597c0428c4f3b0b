package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyReply is returned by Complete when the model produced no text.
var ErrEmptyReply = errors.New("llm: empty reply")

// Usage holds normalized token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThoughtsTokens   int
	CachedTokens     int
	StopReason       string
}

// LogUsage logs a usage summary at debug level.
func LogUsage(provider, model string, usage *Usage) {
	if usage == nil {
		return
	}
	slog.Debug("LLM usage",
		"provider", provider,
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"cached", usage.CachedTokens,
		"stop", usage.StopReason)
}

// Client streams chat completions from one provider and model.
type Client interface {
	// StreamChat starts a completion. An error is returned when the request
	// could not be started; failures after that arrive as an error chunk.
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// IsTransientError reports whether err is worth retrying (rate limits,
	// overload, network hiccups).
	IsTransientError(err error) bool
}

// FallbackClient tries each client in order, retrying transient errors.
type FallbackClient struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Previous provider failed, trying fallback", "provider", i+1)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.Info("Retrying provider", "provider", i+1, "attempt", retry, "max", maxRetries)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages)
			if err == nil {
				return ch, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("Provider failed with transient error", "provider", i+1, "error", err)
				continue
			}

			slog.Error("Provider failed", "provider", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// IsTransientError is always false: a fallback group has already retried.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

// Complete runs a completion and collects the streamed text.
func Complete(ctx context.Context, client Client, messages []Message) (string, error) {
	ch, err := client.StreamChat(ctx, messages)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			// Drain so the producer can exit.
			for range ch {
			}
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
		if chunk.IsFinal && chunk.FinishReason == StopReasonLength {
			slog.Warn("LLM reply truncated due to length")
		}
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// IsTransientMessage classifies an error by its text, for SDKs that do not
// expose typed status errors.
func IsTransientMessage(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"timeout", "connection refused", "connection reset",
		"429", "500", "502", "503", "504",
		"rate limit", "overloaded", "resource_exhausted", "unavailable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
