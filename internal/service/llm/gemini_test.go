package llm

import (
	"answer-bot/internal/config"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func geminiProvider(url string, streaming bool) config.Provider {
	p := testProvider(url, streaming)
	p.Name = "Gemini"
	p.Kind = KindGemini
	p.Model = "gemini-2.0-flash"
	return p
}

func TestToGeminiContents(t *testing.T) {
	img := &Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}
	contents := toGeminiContents([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleTool, Content: "tool output"},
		{Role: RoleUser, Content: "what is this", Image: img},
	})

	require.Len(t, contents, 4)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, string(genai.RoleUser), contents[2].Role, "only assistant turns map to the model role")
	assert.Equal(t, "hello", contents[1].Parts[0].Text)

	last := contents[3]
	assert.Equal(t, string(genai.RoleUser), last.Role)
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "what is this", last.Parts[0].Text)
	require.NotNil(t, last.Parts[1].InlineData)
	assert.Equal(t, "image/png", last.Parts[1].InlineData.MIMEType)
	assert.Equal(t, img.Data, last.Parts[1].InlineData.Data)
}

func TestGeminiSource_MissingKey(t *testing.T) {
	p := geminiProvider("http://example.invalid", false)
	p.APIKey = ""
	_, err := NewGeminiSource(context.Background(), p)
	assert.Error(t, err)
}

func TestGeminiSource_Blocking(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Paris"}]}}]}`)
	}))
	defer srv.Close()

	src, err := NewGeminiSource(context.Background(), geminiProvider(srv.URL, false))
	require.NoError(t, err)

	req := NewRequest("What is the capital of France?", nil, []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	req.System = "be brief"

	h, err := src.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, h.Streaming())
	assert.Equal(t, "Paris", h.BlockingResult())

	contents := got["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.NotNil(t, got["systemInstruction"], "system prompt goes to the system instruction, not the turns")
	assert.EqualValues(t, 256, got["generationConfig"].(map[string]any)["maxOutputTokens"])
}

func TestGeminiSource_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":streamGenerateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Pa"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"ris"}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	src, err := NewGeminiSource(context.Background(), geminiProvider(srv.URL, true))
	require.NoError(t, err)

	h, err := src.Complete(context.Background(), NewRequest("q", nil, nil))
	require.NoError(t, err)
	require.True(t, h.Streaming())

	text, err := Collect(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "Paris", text)
}

func TestGeminiSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	src, err := NewGeminiSource(context.Background(), geminiProvider(srv.URL, false))
	require.NoError(t, err)

	_, err = src.Complete(context.Background(), NewRequest("q", nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini generation failed")
}
