// Package summarize rewrites threat summaries with a language model before
// indicator extraction.
package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"

	DefaultOllamaEndpoint     = "http://localhost:11434"
	DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"
	DefaultTimeout            = 60 * time.Second
	DefaultWorkers            = 2
	defaultMaxTokens          = 300
)

// Provider turns a system instruction and a prompt into model output.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config selects and configures a provider. An empty Provider disables
// summarization.
type Config struct {
	Provider string        `mapstructure:"provider" validate:"omitempty,oneof=ollama openrouter"`
	Endpoint string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Workers  int           `mapstructure:"workers" validate:"gte=0"`
}

// Enabled reports whether a provider is selected.
func (c Config) Enabled() bool {
	return c.Provider != ""
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%s: model is required", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		return NewOllama(cfg.Endpoint, cfg.Model)
	case ProviderOpenRouter:
		return NewOpenRouter(cfg.Endpoint, cfg.Model, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown summarize provider %q", cfg.Provider)
	}
}

var (
	reThink    = regexp.MustCompile(`(?is)<\s*think\s*>.*?<\s*/\s*think\s*>`)
	reThinking = regexp.MustCompile(`(?is)<\s*thinking\s*>.*?<\s*/\s*thinking\s*>`)
)

// stripThinking removes <think> and <thinking> blocks from model output.
func stripThinking(s string) string {
	s = reThink.ReplaceAllString(s, "")
	s = reThinking.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
