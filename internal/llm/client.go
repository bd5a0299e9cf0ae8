// Package llm provides completion clients for the pipeline's LLM stages.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"golang.org/x/sync/semaphore"
)

// NewClient builds the completion client for one stage's settings.
func NewClient(ctx context.Context, cfg config.LLMConfig) (types.LLMClient, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 2 * time.Minute
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Temperature = cfg.Temperature
		oc.Timeout = timeout
		oc.Retry = retry
		logging.APIDebug("Using OpenAI client: model=%s", oc.Model)
		return NewOpenAIClient(oc), nil

	case "ollama":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		oc.BaseURL = ollamaBaseURL(cfg.BaseURL)
		oc.AllowNoKey = true
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Temperature = cfg.Temperature
		oc.Timeout = timeout
		oc.Retry = retry
		logging.APIDebug("Using Ollama client: base=%s model=%s", oc.BaseURL, oc.Model)
		return NewOpenAIClient(oc), nil

	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
			Retry:       retry,
		})
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}

// ollamaBaseURL accepts OLLAMA_HOST style values such as "localhost:11434".
func ollamaBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return defaultOllamaBaseURL
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	if !strings.HasSuffix(raw, "/v1") {
		raw += "/v1"
	}
	return raw
}

// Limited bounds the number of in-flight completions across all stages
// sharing it.
type Limited struct {
	inner types.LLMClient
	sem   *semaphore.Weighted
}

// NewLimited wraps inner with a concurrency limit of n.
func NewLimited(inner types.LLMClient, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{inner: inner, sem: semaphore.NewWeighted(int64(n))}
}

// Share returns a Limited that wraps inner but draws from the same slots.
func (l *Limited) Share(inner types.LLMClient) *Limited {
	return &Limited{inner: inner, sem: l.sem}
}

// Complete sends a prompt once a slot is free.
func (l *Limited) Complete(ctx context.Context, prompt string) (string, error) {
	return l.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message once a slot is free.
func (l *Limited) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}
