package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	history := []Message{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}
	img := &Image{Data: []byte("x")}

	req := NewRequest("c", img, history)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, "c", req.Messages[2].Content)
	assert.Same(t, img, req.Messages[2].Image)
	// history slice is not aliased
	assert.Len(t, history, 2)
}

func TestImageDataURI(t *testing.T) {
	tests := []struct {
		name string
		img  Image
		want string
	}{
		{"explicit mime", Image{Data: []byte("hi"), MIMEType: "image/png"}, "data:image/png;base64,aGk="},
		{"default mime", Image{Data: []byte("hi")}, "data:image/jpeg;base64,aGk="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.img.DataURI())
		})
	}
}

func TestCollect_Blocking(t *testing.T) {
	text, err := Collect(context.Background(), NewBlockingHandle("done", nil))
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestCollect_StreamError(t *testing.T) {
	ch := make(chan StreamChunk, 3)
	ch <- StreamChunk{Content: "par"}
	ch <- StreamChunk{Content: "tial"}
	ch <- StreamChunk{Err: errors.New("boom")}
	close(ch)

	text, err := Collect(context.Background(), NewStreamingHandle(ch))
	assert.Equal(t, "partial", text)
	assert.EqualError(t, err, "boom")
}

func TestCollect_ContextCancelled(t *testing.T) {
	ch := make(chan StreamChunk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, NewStreamingHandle(ch))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithSystem(t *testing.T) {
	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}}
	assert.Len(t, withSystem(req), 1)

	req.System = "sys"
	msgs := withSystem(req)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "sys"))
}
