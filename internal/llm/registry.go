package llm

import (
	"context"
	"fmt"
	"strings"
)

// Settings selects and configures one backend.
type Settings struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// New builds the backend named in s.Provider.
func New(ctx context.Context, s Settings) (Provider, error) {
	switch normalizeProviderName(s.Provider) {
	case "anthropic", "claude":
		return NewAnthropicProvider(s.APIKey, WithAnthropicBaseURL(s.BaseURL)), nil
	case "openai":
		return NewOpenAIProvider(s.APIKey, WithOpenAIBaseURL(s.BaseURL)), nil
	case "gemini", "google", "genai":
		return NewGeminiProvider(ctx, s.APIKey, s.BaseURL)
	default:
		return nil, fmt.Errorf("unknown model provider %q", s.Provider)
	}
}

// Known reports whether New accepts the provider name.
func Known(name string) bool {
	switch normalizeProviderName(name) {
	case "anthropic", "claude", "openai", "gemini", "google", "genai":
		return true
	}
	return false
}

// DefaultModel is the model used when AI_MODEL is unset. Empty for unknown
// providers.
func DefaultModel(name string) string {
	switch normalizeProviderName(name) {
	case "anthropic", "claude":
		return "claude-sonnet-4-5"
	case "openai":
		return "gpt-4o"
	case "gemini", "google", "genai":
		return "gemini-2.5-flash"
	}
	return ""
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
