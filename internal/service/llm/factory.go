package llm

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Provider kinds understood by the registry
const (
	KindOpenRouter = "openrouter"
	KindOpenAI     = "openai"
	KindGenkit     = "genkit"
	KindGemini     = "gemini"
)

// Constructor builds a CompletionSource for one configured provider
type Constructor func(ctx context.Context, provider config.Provider) (CompletionSource, error)

// Registry maps provider kinds to constructors
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry with the built-in kinds
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{
		KindOpenRouter: func(_ context.Context, p config.Provider) (CompletionSource, error) {
			return NewOpenRouterSource(p, &http.Client{Timeout: p.Timeout})
		},
		KindOpenAI: func(_ context.Context, p config.Provider) (CompletionSource, error) {
			return NewOpenAISource(p)
		},
		KindGenkit: func(ctx context.Context, p config.Provider) (CompletionSource, error) {
			return NewGenkitSource(ctx, p)
		},
		KindGemini: func(ctx context.Context, p config.Provider) (CompletionSource, error) {
			return NewGeminiSource(ctx, p)
		},
	}}
}

// Register adds or replaces the constructor for a kind
func (r *Registry) Register(kind string, c Constructor) {
	r.constructors[kind] = c
}

// New builds the source for one provider
func (r *Registry) New(ctx context.Context, provider config.Provider) (CompletionSource, error) {
	c, ok := r.constructors[provider.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported provider kind: %s", provider.Kind)
	}
	return c(ctx, provider)
}

// BuildSources builds a source for every enabled provider. Providers that fail to build are skipped and logged.
func (r *Registry) BuildSources(ctx context.Context, providers []config.Provider) map[string]CompletionSource {
	sources := make(map[string]CompletionSource, len(providers))
	for _, p := range providers {
		if !p.Enabled {
			logger.Log.WithField("provider", p.Name).Info("Provider disabled, skipping")
			continue
		}
		src, err := r.New(ctx, p)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"provider": p.Name,
				"kind":     p.Kind,
			}).WithError(err).Warn("Failed to build provider, skipping")
			continue
		}
		sources[p.Name] = src
	}
	return sources
}
