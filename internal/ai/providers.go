package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434"
)

// DefaultRegistry knows openai, openrouter and ollama.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("openai", newOpenAI)
	r.Register("openrouter", func(ctx context.Context, opts Options) (llms.Model, error) {
		if opts.BaseURL == "" {
			opts.BaseURL = openRouterBaseURL
		}
		return newOpenAI(ctx, opts)
	})
	r.Register("ollama", newOllama)
	return r
}

func newOpenAI(_ context.Context, opts Options) (llms.Model, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	o := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	}
	if opts.BaseURL != "" {
		o = append(o, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(o...)
}

func newOllama(_ context.Context, opts Options) (llms.Model, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = ollamaBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "llama3:latest"
	}
	return ollama.New(
		ollama.WithServerURL(opts.BaseURL),
		ollama.WithModel(model),
	)
}
