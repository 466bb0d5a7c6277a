package llm

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterSource talks to any OpenAI-compatible chat completions endpoint over raw HTTP
type OpenRouterSource struct {
	provider config.Provider
	client   *http.Client
	baseURL  string
}

// NewOpenRouterSource creates a source for an OpenAI-compatible endpoint
func NewOpenRouterSource(provider config.Provider, client *http.Client) (*OpenRouterSource, error) {
	if provider.APIKey == "" {
		return nil, errMissingKey(provider.Name)
	}
	if client == nil {
		client = &http.Client{}
	}
	baseURL := provider.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	return &OpenRouterSource{
		provider: provider,
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function wireToolDef `json:"function"`
}

type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type responseMessage struct {
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      responseMessage `json:"message"`
		Delta        responseMessage `json:"delta"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage *ResponseUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toWireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if m.Image != nil && m.Role == RoleUser {
			wm.Content = []contentPart{
				{Type: "text", Text: m.Content},
				{Type: "image_url", ImageURL: &imageURL{URL: m.Image.DataURI()}},
			}
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []ToolSpec) []wireTool {
	var out []wireTool
	for _, t := range tools {
		out = append(out, wireTool{
			Type:     "function",
			Function: wireToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

func (s *OpenRouterSource) buildRequest(req CompletionRequest) ChatRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.provider.MaxTokens
	}
	return ChatRequest{
		Model:     s.provider.Model,
		Messages:  toWireMessages(withSystem(req)),
		Stream:    s.provider.Streaming,
		MaxTokens: maxTokens,
		Tools:     toWireTools(req.Tools),
	}
}

func (s *OpenRouterSource) post(ctx context.Context, body ChatRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.provider.APIKey)
	req.Header.Set("HTTP-Referer", "https://github.com/answer-bot")
	req.Header.Set("X-Title", "Answer Bot")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// Complete sends the request, streaming when the provider is configured to
func (s *OpenRouterSource) Complete(ctx context.Context, req CompletionRequest) (*CompletionHandle, error) {
	body := s.buildRequest(req)

	logger.Log.WithFields(logrus.Fields{
		"provider":      s.provider.Name,
		"model":         body.Model,
		"stream":        body.Stream,
		"message_count": len(body.Messages),
		"tool_count":    len(body.Tools),
	}).Info("Calling OpenRouter API")

	resp, err := s.post(ctx, body)
	if err != nil {
		return nil, err
	}

	if !body.Stream {
		defer resp.Body.Close()
		var chatResp ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return nil, fmt.Errorf("error decoding response: %w", err)
		}
		if chatResp.Error != nil {
			return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
		}
		if len(chatResp.Choices) == 0 {
			return nil, fmt.Errorf("no response from API")
		}
		msg := chatResp.Choices[0].Message
		return NewBlockingHandle(msg.Content, fromWireToolCalls(msg.ToolCalls)), nil
	}

	chunks := make(chan StreamChunk)
	go s.readStream(ctx, resp.Body, chunks)
	return NewStreamingHandle(chunks), nil
}

func (s *OpenRouterSource) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- StreamChunk) {
	defer body.Close()
	defer close(chunks)

	pending := map[int]*ToolCall{}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines, comments and [DONE] markers
		if line == "" || strings.HasPrefix(line, ":") || line == "data: [DONE]" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var streamResp ChatResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &streamResp); err != nil {
			logger.Log.WithError(err).Warn("Error parsing stream chunk")
			continue
		}
		if streamResp.Error != nil {
			sendChunk(ctx, chunks, StreamChunk{Err: fmt.Errorf("API error: %s", streamResp.Error.Message)})
			return
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		delta := streamResp.Choices[0].Delta
		for i, tc := range delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &ToolCall{}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
		if delta.Content != "" {
			if !sendChunk(ctx, chunks, StreamChunk{Content: delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Log.WithError(err).Error("Scanner error during streaming")
		sendChunk(ctx, chunks, StreamChunk{Err: fmt.Errorf("error reading stream: %w", err)})
		return
	}

	if len(pending) > 0 {
		sendChunk(ctx, chunks, StreamChunk{ToolCalls: orderedToolCalls(pending)})
	}
}

func orderedToolCalls(pending map[int]*ToolCall) []ToolCall {
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		calls = append(calls, *pending[idx])
	}
	return calls
}

func fromWireToolCalls(calls []wireToolCall) []ToolCall {
	var out []ToolCall
	for _, tc := range calls {
		out = append(out, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}
