package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Message roles used across providers
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Image is an inline image attached to a user turn
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI encodes the image as a data URI for OpenAI-compatible APIs
func (i *Image) DataURI() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ToolCall is a function call requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a tool the model may call. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Message is one conversation turn
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Image      *Image     `json:"-"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// CompletionRequest is the provider-independent request shape
type CompletionRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// NewRequest builds a request from prior history followed by the user turn
func NewRequest(prompt string, image *Image, history []Message) CompletionRequest {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: prompt, Image: image})
	return CompletionRequest{Messages: messages}
}

// StreamChunk is one delta of a streamed completion. Err is set on the last chunk when the stream failed.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
}

// CompletionSource turns a request into generated text
type CompletionSource interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionHandle, error)
}

// CompletionHandle holds either a blocking result or a stream of deltas
type CompletionHandle struct {
	text      string
	toolCalls []ToolCall
	stream    <-chan StreamChunk
}

// NewBlockingHandle wraps a finished completion
func NewBlockingHandle(text string, toolCalls []ToolCall) *CompletionHandle {
	return &CompletionHandle{text: text, toolCalls: toolCalls}
}

// NewStreamingHandle wraps a delta channel. The producer must close it.
func NewStreamingHandle(stream <-chan StreamChunk) *CompletionHandle {
	return &CompletionHandle{stream: stream}
}

// Streaming reports whether the handle carries deltas
func (h *CompletionHandle) Streaming() bool {
	return h.stream != nil
}

// BlockingResult returns the text of a blocking completion
func (h *CompletionHandle) BlockingResult() string {
	return h.text
}

// ToolCalls returns the tool calls of a blocking completion
func (h *CompletionHandle) ToolCalls() []ToolCall {
	return h.toolCalls
}

// StreamDeltas returns the delta channel. It can be consumed once.
func (h *CompletionHandle) StreamDeltas() <-chan StreamChunk {
	return h.stream
}

// Collect drains a handle into its full text
func Collect(ctx context.Context, h *CompletionHandle) (string, error) {
	if !h.Streaming() {
		return h.text, nil
	}
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-h.stream:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			sb.WriteString(chunk.Content)
		}
	}
}

// sendChunk delivers a chunk unless the consumer went away
func sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func withSystem(req CompletionRequest) []Message {
	if req.System == "" {
		return req.Messages
	}
	return append([]Message{{Role: RoleSystem, Content: req.System}}, req.Messages...)
}

func errMissingKey(provider string) error {
	return fmt.Errorf("%s API key not configured", provider)
}
