package llm

import (
	"answer-bot/internal/config"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genkitProvider(url string, streaming bool) config.Provider {
	p := testProvider(url, streaming)
	p.Name = "Mistral"
	p.Kind = KindGenkit
	p.Model = "mistral-small"
	return p
}

func TestGenkitModelName(t *testing.T) {
	assert.Equal(t, "compat/mistral-small", genkitModelName("mistral-small"))
	assert.Equal(t, "compat/mistral-small", genkitModelName("compat/mistral-small"))
	assert.Equal(t, "compat/meta/llama", genkitModelName("meta/llama"))
}

func TestToGenkitMessages(t *testing.T) {
	img := &Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}
	messages := toGenkitMessages([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "what is this", Image: img},
	})

	require.Len(t, messages, 4)
	assert.Equal(t, ai.RoleSystem, messages[0].Role)
	assert.Equal(t, ai.RoleUser, messages[1].Role)
	assert.Equal(t, ai.RoleModel, messages[2].Role)
	assert.Equal(t, "hello", messages[2].Text())

	last := messages[3]
	require.Len(t, last.Content, 2)
	assert.True(t, last.Content[0].IsText())
	assert.True(t, last.Content[1].IsMedia())
	assert.Equal(t, "image/png", last.Content[1].ContentType)
	assert.Equal(t, img.DataURI(), last.Content[1].Text)
}

func TestGenkitSource_MissingKey(t *testing.T) {
	p := genkitProvider("http://example.invalid", false)
	p.APIKey = ""
	_, err := NewGenkitSource(context.Background(), p)
	assert.Error(t, err)
}

func TestGenkitSource_Blocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"mistral-small","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Paris"}}]}`)
	}))
	defer srv.Close()

	src, err := NewGenkitSource(context.Background(), genkitProvider(srv.URL, false))
	require.NoError(t, err)

	h, err := src.Complete(context.Background(), NewRequest("What is the capital of France?", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "Paris", h.BlockingResult())
}

func TestGenkitSource_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Pa"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"ris"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	src, err := NewGenkitSource(context.Background(), genkitProvider(srv.URL, true))
	require.NoError(t, err)

	h, err := src.Complete(context.Background(), NewRequest("q", nil, nil))
	require.NoError(t, err)
	require.True(t, h.Streaming())

	text, err := Collect(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "Paris", text)
}

func TestGenkitSource_StreamClosesAfterCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Pa"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"ris"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src, err := NewGenkitSource(context.Background(), genkitProvider(srv.URL, true))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := src.Complete(ctx, NewRequest("q", nil, nil))
	require.NoError(t, err)

	first := <-h.StreamDeltas()
	require.NoError(t, first.Err)
	assert.Equal(t, "Pa", first.Content)
	cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for range h.StreamDeltas() {
		}
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed after cancel")
	}
}
