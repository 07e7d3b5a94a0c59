package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// ProviderOpenAI talks to an OpenAI-compatible endpoint such as LiteLLM.
	ProviderOpenAI = "openai"
	// ProviderGenAI talks to Gemini directly.
	ProviderGenAI = "genai"
	// ProviderMock returns canned responses.
	ProviderMock = "mock"
)

// Options selects and configures an LLM provider.
type Options struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	GenAIAPIKey string
	GenAIModel  string
}

// NewLLMClient creates an LLM client for the configured provider.
func NewLLMClient(ctx context.Context, opts Options, logger *zap.Logger) (LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(opts.Provider) {
	case ProviderMock:
		logger.Info("LLM_PROVIDER=mock, using mock LLM client")
		return NewMockClient(), nil
	case ProviderGenAI:
		logger.Info("using GenAI LLM client", zap.String("model", opts.GenAIModel))
		return NewGenAIClient(ctx, opts.GenAIAPIKey, opts.GenAIModel)
	}
	return NewClient(opts.BaseURL, opts.APIKey, opts.Timeout), nil
}
