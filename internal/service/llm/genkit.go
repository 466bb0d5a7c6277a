package llm

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"
)

const genkitPluginName = "compat"

// GenkitSource uses Firebase Genkit with an OpenAI-compatible plugin
type GenkitSource struct {
	genkit   *genkit.Genkit
	provider config.Provider
}

// NewGenkitSource initializes a Genkit instance for one provider
func NewGenkitSource(ctx context.Context, provider config.Provider) (*GenkitSource, error) {
	if provider.APIKey == "" {
		return nil, errMissingKey(provider.Name)
	}
	baseURL := provider.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}

	g := genkit.Init(ctx,
		genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: genkitPluginName,
			APIKey:   provider.APIKey,
			BaseURL:  baseURL,
		}),
		genkit.WithDefaultModel(genkitModelName(provider.Model)),
	)

	logger.Log.WithFields(logrus.Fields{
		"provider": provider.Name,
		"model":    provider.Model,
	}).Info("Initialized Genkit provider")

	return &GenkitSource{genkit: g, provider: provider}, nil
}

func genkitModelName(model string) string {
	if strings.HasPrefix(model, genkitPluginName+"/") {
		return model
	}
	return genkitPluginName + "/" + model
}

func toGenkitMessages(messages []Message) []*ai.Message {
	var out []*ai.Message
	for _, msg := range messages {
		var role ai.Role
		switch msg.Role {
		case RoleSystem:
			role = ai.RoleSystem
		case RoleAssistant:
			role = ai.RoleModel
		default:
			role = ai.RoleUser
		}
		parts := []*ai.Part{ai.NewTextPart(msg.Content)}
		if msg.Image != nil {
			parts = append(parts, ai.NewMediaPart(msg.Image.MIMEType, msg.Image.DataURI()))
		}
		out = append(out, &ai.Message{Role: role, Content: parts})
	}
	return out
}

// Complete generates through Genkit. Tools are not forwarded to this kind.
func (s *GenkitSource) Complete(ctx context.Context, req CompletionRequest) (*CompletionHandle, error) {
	messages := toGenkitMessages(withSystem(req))
	model := genkitModelName(s.provider.Model)

	params := &openai.ChatCompletionNewParams{}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.provider.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	logger.Log.WithFields(logrus.Fields{
		"provider":      s.provider.Name,
		"model":         model,
		"stream":        s.provider.Streaming,
		"message_count": len(messages),
	}).Info("Calling Genkit")

	if !s.provider.Streaming {
		resp, err := genkit.Generate(ctx, s.genkit,
			ai.WithMessages(messages...),
			ai.WithModelName(model),
			ai.WithConfig(params),
		)
		if err != nil {
			return nil, fmt.Errorf("genkit generation failed: %w", err)
		}
		return NewBlockingHandle(resp.Text(), nil), nil
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)

		resp, err := genkit.Generate(ctx, s.genkit,
			ai.WithMessages(messages...),
			ai.WithModelName(model),
			ai.WithConfig(params),
			ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
				for _, part := range chunk.Content {
					if !part.IsText() || part.Text == "" {
						continue
					}
					if !sendChunk(ctx, chunks, StreamChunk{Content: part.Text}) {
						return ctx.Err()
					}
				}
				return nil
			}),
		)
		if err != nil {
			sendChunk(ctx, chunks, StreamChunk{Err: fmt.Errorf("genkit stream failed: %w", err)})
			return
		}
		if resp.Usage != nil {
			logger.Log.WithFields(logrus.Fields{
				"provider":          s.provider.Name,
				"prompt_tokens":     resp.Usage.InputTokens,
				"completion_tokens": resp.Usage.OutputTokens,
			}).Debug("Captured usage data")
		}
	}()
	return NewStreamingHandle(chunks), nil
}
