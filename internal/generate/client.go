// Package generate models the code-generation capability behind the
// refinement loop. The loop depends only on the Client interface; the
// concrete provider (Gemini, any OpenAI-compatible endpoint, or a test
// stub) is chosen by configuration.
package generate

import (
	"context"
	"errors"
	"fmt"
)

// ErrUpstream wraps provider failures. An upstream failure aborts the
// current refinement loop; it is not a test failure and is never retried
// within the loop.
var ErrUpstream = errors.New("upstream generation failure")

// Client is the minimal surface the refinement loop calls.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string // gemini, openai
	APIKey   string
	Model    string
	BaseURL  string // OpenAI-compatible endpoints only
}

// NewClient builds the configured provider client.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg)
	case "openai":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
