package llm

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// OpenAISource uses the official OpenAI SDK
type OpenAISource struct {
	provider config.Provider
	client   openai.Client
}

// NewOpenAISource creates an SDK-backed source. Extra options are appended after the key and base URL.
func NewOpenAISource(provider config.Provider, opts ...option.RequestOption) (*OpenAISource, error) {
	if provider.APIKey == "" {
		return nil, errMissingKey(provider.Name)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(provider.APIKey)}
	if provider.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(provider.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAISource{
		provider: provider,
		client:   openai.NewClient(clientOpts...),
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			if m.Image == nil {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			out = append(out, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(m.Content),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: m.Image.DataURI()}),
			}))
		}
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}

func (s *OpenAISource) params(req CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.provider.Model),
		Messages: toOpenAIMessages(withSystem(req)),
		Tools:    toOpenAITools(req.Tools),
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.provider.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	return params
}

// Complete runs a chat completion through the SDK
func (s *OpenAISource) Complete(ctx context.Context, req CompletionRequest) (*CompletionHandle, error) {
	params := s.params(req)

	logger.Log.WithFields(logrus.Fields{
		"provider":      s.provider.Name,
		"model":         s.provider.Model,
		"stream":        s.provider.Streaming,
		"message_count": len(params.Messages),
	}).Info("Calling OpenAI API")

	if !s.provider.Streaming {
		completion, err := s.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("openai completion failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return nil, fmt.Errorf("no response from API")
		}
		msg := completion.Choices[0].Message
		return NewBlockingHandle(msg.Content, fromOpenAIToolCalls(msg.ToolCalls)), nil
	}

	stream := s.client.Chat.Completions.NewStreaming(ctx, params)
	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !sendChunk(ctx, chunks, StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sendChunk(ctx, chunks, StreamChunk{Err: fmt.Errorf("openai stream failed: %w", err)})
			return
		}
		if len(acc.Choices) > 0 {
			if calls := fromOpenAIToolCalls(acc.Choices[0].Message.ToolCalls); len(calls) > 0 {
				sendChunk(ctx, chunks, StreamChunk{ToolCalls: calls})
			}
		}
	}()
	return NewStreamingHandle(chunks), nil
}

func fromOpenAIToolCalls(calls []openai.ChatCompletionMessageToolCall) []ToolCall {
	var out []ToolCall
	for _, tc := range calls {
		out = append(out, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}
