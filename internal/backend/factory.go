package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderCustom = "custom"
	ProviderStub   = "stub"
)

// Options is the provider-independent backend configuration.
type Options struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Format      string
	Temperature float32
	MaxTokens   int
	Headers     map[string]string
	Proxy       string
}

// New constructs the backend named by opts.Provider.
func New(ctx context.Context, opts Options, logger *logrus.Logger) (Backend, error) {
	switch strings.ToLower(opts.Provider) {
	case ProviderOpenAI, "":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key is required", ErrAuth)
		}
		return NewOpenAI(OpenAIOptions{
			APIKey:      opts.APIKey,
			Model:       opts.Model,
			BaseURL:     opts.BaseURL,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		}, logger), nil
	case ProviderGemini:
		return NewGemini(ctx, GeminiOptions{
			APIKey:      opts.APIKey,
			Model:       opts.Model,
			BaseURL:     opts.BaseURL,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		}, logger)
	case ProviderCustom:
		return NewCustom(CustomOptions{
			Endpoint:    opts.BaseURL,
			APIKey:      opts.APIKey,
			Model:       opts.Model,
			Format:      opts.Format,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
			Headers:     opts.Headers,
			Proxy:       opts.Proxy,
		}, logger)
	case ProviderStub:
		return &Stub{}, nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", opts.Provider)
	}
}
