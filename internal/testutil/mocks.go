package testutil

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/config"
	"answer-bot/internal/repository/db"
	"answer-bot/internal/service/llm"
	"context"
	"errors"
	"time"
)

// MockSink is a mock implementation of chat.Sink for testing
type MockSink struct {
	PostFunc   func(ctx context.Context, chatID int64, replyTo int, body chat.Rendered) (chat.MessageRef, error)
	UpdateFunc func(ctx context.Context, ref chat.MessageRef, body chat.Rendered) error
	DeleteFunc func(ctx context.Context, ref chat.MessageRef) error
}

func (m *MockSink) Post(ctx context.Context, chatID int64, replyTo int, body chat.Rendered) (chat.MessageRef, error) {
	if m.PostFunc != nil {
		return m.PostFunc(ctx, chatID, replyTo, body)
	}
	return chat.MessageRef{}, errors.New("not implemented")
}

func (m *MockSink) Update(ctx context.Context, ref chat.MessageRef, body chat.Rendered) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, ref, body)
	}
	return errors.New("not implemented")
}

func (m *MockSink) Delete(ctx context.Context, ref chat.MessageRef) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, ref)
	}
	return errors.New("not implemented")
}

// MockImageLoader is a mock implementation of chat.ImageLoader for testing
type MockImageLoader struct {
	LoadImageFunc func(ctx context.Context, fileID string) (*llm.Image, error)
}

func (m *MockImageLoader) LoadImage(ctx context.Context, fileID string) (*llm.Image, error) {
	if m.LoadImageFunc != nil {
		return m.LoadImageFunc(ctx, fileID)
	}
	return nil, errors.New("not implemented")
}

// MockDocumentStore is a mock implementation of telegraph.DocumentStore for testing
type MockDocumentStore struct {
	CreateDocumentFunc func(ctx context.Context, title, markdown string) (string, error)
	EditDocumentFunc   func(ctx context.Context, docURL, title, markdown string) (string, error)
}

func (m *MockDocumentStore) CreateDocument(ctx context.Context, title, markdown string) (string, error) {
	if m.CreateDocumentFunc != nil {
		return m.CreateDocumentFunc(ctx, title, markdown)
	}
	return "", errors.New("not implemented")
}

func (m *MockDocumentStore) EditDocument(ctx context.Context, docURL, title, markdown string) (string, error) {
	if m.EditDocumentFunc != nil {
		return m.EditDocumentFunc(ctx, docURL, title, markdown)
	}
	return "", errors.New("not implemented")
}

// MockCompletionSource is a mock implementation of llm.CompletionSource for testing
type MockCompletionSource struct {
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error)
}

func (m *MockCompletionSource) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

// MockSummarizer is a mock summarizer for testing
type MockSummarizer struct {
	SummarizeFunc func(ctx context.Context, document string) (string, error)
}

func (m *MockSummarizer) Summarize(ctx context.Context, document string) (string, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, document)
	}
	return "", errors.New("not implemented")
}

// MockHistoryStore is a mock implementation of db.HistoryStore for testing
type MockHistoryStore struct {
	GetTurnsFunc    func(ctx context.Context, key db.Key, since time.Time) ([]db.Turn, error)
	AppendTurnsFunc func(ctx context.Context, key db.Key, turns ...db.Turn) error
	DeleteTurnsFunc func(ctx context.Context, key db.Key) error
	EvictBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
	CloseFunc       func() error
}

func (m *MockHistoryStore) GetTurns(ctx context.Context, key db.Key, since time.Time) ([]db.Turn, error) {
	if m.GetTurnsFunc != nil {
		return m.GetTurnsFunc(ctx, key, since)
	}
	return nil, errors.New("not implemented")
}

func (m *MockHistoryStore) AppendTurns(ctx context.Context, key db.Key, turns ...db.Turn) error {
	if m.AppendTurnsFunc != nil {
		return m.AppendTurnsFunc(ctx, key, turns...)
	}
	return errors.New("not implemented")
}

func (m *MockHistoryStore) DeleteTurns(ctx context.Context, key db.Key) error {
	if m.DeleteTurnsFunc != nil {
		return m.DeleteTurnsFunc(ctx, key)
	}
	return errors.New("not implemented")
}

func (m *MockHistoryStore) EvictBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.EvictBeforeFunc != nil {
		return m.EvictBeforeFunc(ctx, cutoff)
	}
	return 0, errors.New("not implemented")
}

func (m *MockHistoryStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Answering returns a source that answers every request with text
func Answering(text string) *MockCompletionSource {
	return &MockCompletionSource{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error) {
			return llm.NewBlockingHandle(text, nil), nil
		},
	}
}

// Failing returns a source whose every call fails with err
func Failing(err error) *MockCompletionSource {
	return &MockCompletionSource{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error) {
			return nil, err
		},
	}
}

// Streaming returns a source streaming deltas and then ending the stream
func Streaming(deltas ...string) *MockCompletionSource {
	return &MockCompletionSource{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error) {
			chunks := make([]llm.StreamChunk, len(deltas))
			for i, d := range deltas {
				chunks[i] = llm.StreamChunk{Content: d}
			}
			return StreamHandle(ctx, chunks...), nil
		},
	}
}

// Hanging returns a source that never produces anything until ctx is done
func Hanging(streaming bool) *MockCompletionSource {
	return &MockCompletionSource{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error) {
			if !streaming {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			ch := make(chan llm.StreamChunk)
			go func() {
				defer close(ch)
				<-ctx.Done()
			}()
			return llm.NewStreamingHandle(ch), nil
		},
	}
}

// StreamHandle returns a streaming handle emitting chunks. The producer stops when ctx is done.
func StreamHandle(ctx context.Context, chunks ...llm.StreamChunk) *llm.CompletionHandle {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return llm.NewStreamingHandle(ch)
}

// NewMockProvider returns a provider config with test-friendly defaults
func NewMockProvider(name string, streaming bool) config.Provider {
	return config.Provider{
		Name:              name,
		Command:           "",
		Kind:              "openrouter",
		Model:             "test/model",
		Streaming:         streaming,
		Aggregate:         true,
		Enabled:           true,
		PushInterval:      10 * time.Millisecond,
		Timeout:           5 * time.Second,
		HistoryMessages:   10,
		HistoryTTL:        10 * time.Minute,
		MaxToolIterations: 3,
		MaxTokens:         256,
	}
}

// NewMockAggregatorConfig returns an aggregator config for testing
func NewMockAggregatorConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		MaxStreaming:       5,
		MaxBlocking:        2,
		MaxPromptChars:     1000,
		QuestionMaxChars:   200,
		MaxDocumentBytes:   60000,
		DeletePlaceholders: true,
		SummaryTimeout:     5 * time.Second,
		DocumentTitle:      "Answer it",
	}
}
