package llm

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// GeminiSource calls the Gemini API through the genai SDK
type GeminiSource struct {
	client   *genai.Client
	provider config.Provider
}

// NewGeminiSource creates a Gemini API client for one provider
func NewGeminiSource(ctx context.Context, provider config.Provider) (*GeminiSource, error) {
	if provider.APIKey == "" {
		return nil, errMissingKey(provider.Name)
	}
	cc := &genai.ClientConfig{
		APIKey:  provider.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if provider.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: provider.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiSource{client: client, provider: provider}, nil
}

func toGeminiContents(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if m.Image == nil {
			contents = append(contents, genai.NewContentFromText(m.Content, role))
			continue
		}
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(m.Content),
			genai.NewPartFromBytes(m.Image.Data, m.Image.MIMEType),
		}, role))
	}
	return contents
}

// Complete generates with Gemini. Tools are not forwarded to this kind.
func (s *GeminiSource) Complete(ctx context.Context, req CompletionRequest) (*CompletionHandle, error) {
	contents := toGeminiContents(req.Messages)

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.provider.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	logger.Log.WithFields(logrus.Fields{
		"provider":      s.provider.Name,
		"model":         s.provider.Model,
		"stream":        s.provider.Streaming,
		"message_count": len(contents),
	}).Info("Calling Gemini API")

	if !s.provider.Streaming {
		res, err := s.client.Models.GenerateContent(ctx, s.provider.Model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini generation failed: %w", err)
		}
		return NewBlockingHandle(res.Text(), nil), nil
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		for res, err := range s.client.Models.GenerateContentStream(ctx, s.provider.Model, contents, cfg) {
			if err != nil {
				sendChunk(ctx, chunks, StreamChunk{Err: fmt.Errorf("gemini stream failed: %w", err)})
				return
			}
			text := res.Text()
			if text == "" {
				continue
			}
			if !sendChunk(ctx, chunks, StreamChunk{Content: text}) {
				return
			}
		}
	}()
	return NewStreamingHandle(chunks), nil
}
