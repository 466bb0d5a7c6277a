package bot

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/config"
	"answer-bot/internal/repository/memory"
	"answer-bot/internal/service/answer"
	"answer-bot/internal/service/ask"
	"answer-bot/internal/service/capture"
	"answer-bot/internal/service/conversation"
	"answer-bot/internal/service/llm"
	"answer-bot/internal/testutil"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const docURL = "https://telegra.ph/Answer-it-05-01"

type sinkLog struct {
	mu      sync.Mutex
	next    int
	posts   []chat.Rendered
	updates []chat.Rendered
}

func (l *sinkLog) mock() *testutil.MockSink {
	return &testutil.MockSink{
		PostFunc: func(ctx context.Context, chatID int64, replyTo int, body chat.Rendered) (chat.MessageRef, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.next++
			l.posts = append(l.posts, body)
			return chat.MessageRef{ChatID: chatID, MessageID: 500 + l.next}, nil
		},
		UpdateFunc: func(ctx context.Context, ref chat.MessageRef, body chat.Rendered) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.updates = append(l.updates, body)
			return nil
		},
		DeleteFunc: func(ctx context.Context, ref chat.MessageRef) error { return nil },
	}
}

func (l *sinkLog) texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, p := range l.posts {
		out = append(out, p.Text)
	}
	return out
}

type harness struct {
	handlers *Handlers
	capture  *capture.Store
	sink     *sinkLog
	prompts  chan string
}

func newHarness(t *testing.T, disabled ...string) *harness {
	t.Helper()
	h := &harness{sink: &sinkLog{}, prompts: make(chan string, 10)}
	sink := h.sink.mock()

	source := &testutil.MockCompletionSource{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionHandle, error) {
			h.prompts <- req.Messages[len(req.Messages)-1].Content
			return llm.NewBlockingHandle("Paris", nil), nil
		},
	}
	p := testutil.NewMockProvider("Gemini", false)
	p.Command = "gemini"
	backend := answer.NewBackend(p, source, sink, nil)

	h.capture = capture.NewStore(config.CaptureConfig{TTL: time.Minute, MaxEntries: 10})
	docs := &testutil.MockDocumentStore{
		CreateDocumentFunc: func(ctx context.Context, title, markdown string) (string, error) {
			return docURL, nil
		},
	}
	aggregator := answer.NewAggregator(testutil.NewMockAggregatorConfig(), []*answer.Backend{backend}, answer.Dependencies{
		Sink:      sink,
		Documents: docs,
		Capture:   h.capture,
		BotName:   "answerbot",
	})
	history := conversation.NewConversationService(memory.NewHistoryStore())
	askService := ask.NewAskService([]*answer.Backend{backend}, history, sink, ask.Options{MaxPromptChars: 100})

	h.handlers = NewHandlers(Deps{
		Sink:             sink,
		Aggregator:       aggregator,
		Ask:              askService,
		Capture:          h.capture,
		BotName:          "answerbot",
		ProviderCommands: []string{"gemini"},
		Disabled:         disabled,
	})
	return h
}

func TestHandle_CapturesPlainMessages(t *testing.T) {
	h := newHarness(t)

	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, UserID: 2, MessageID: 10, Text: "capital of France?"})
	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, UserID: 2, MessageID: 11, Text: "/other@SomeBot hi"})

	msg, ok := h.capture.Peek(1)
	require.True(t, ok)
	assert.Equal(t, 10, msg.MessageID)
	assert.Equal(t, "capital of France?", msg.Text)
	assert.Empty(t, h.sink.texts(), "plain messages get no reply")
}

func TestHandle_AnswerItPublishesLink(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	ctx := context.Background()

	h.handlers.Handle(ctx, &chat.Incoming{ChatID: 1, UserID: 2, MessageID: 10, Text: "capital of France?"})
	h.handlers.Handle(ctx, &chat.Incoming{ChatID: 1, UserID: 2, MessageID: 11, Text: "/answer_it"})

	assert.Equal(t, "capital of France?", <-h.prompts)
	texts := h.sink.texts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[len(texts)-1], docURL)
}

func TestHandle_AnswerItUsesReply(t *testing.T) {
	h := newHarness(t)

	h.handlers.Handle(context.Background(), &chat.Incoming{
		ChatID: 1, UserID: 2, MessageID: 11, Text: "/answer_it",
		ReplyTo: &chat.Incoming{ChatID: 1, UserID: 3, MessageID: 5, Text: "replied question"},
	})

	assert.Equal(t, "replied question", <-h.prompts)
}

func TestHandle_ErrorReplies(t *testing.T) {
	tests := []struct {
		name string
		in   *chat.Incoming
		want string
	}{
		{name: "nothing captured", in: &chat.Incoming{ChatID: 1, MessageID: 1, Text: "/answer_it"}, want: ReplyNoMessage},
		{name: "empty provider prompt", in: &chat.Incoming{ChatID: 1, MessageID: 1, Text: "/gemini"}, want: ReplyEmptyPrompt},
		{name: "prompt too long", in: &chat.Incoming{ChatID: 1, MessageID: 1, Text: "/gemini " + strings.Repeat("a", 101)}, want: ReplyTooLong},
		{name: "empty markdown", in: &chat.Incoming{ChatID: 1, MessageID: 1, Text: "/md"}, want: ReplyEmptyPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.handlers.Handle(context.Background(), tt.in)
			assert.Equal(t, []string{tt.want}, h.sink.texts())
		})
	}
}

func TestHandle_ProviderCommand(t *testing.T) {
	h := newHarness(t)

	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, UserID: 2, MessageID: 3, Text: "gemini: capital of Italy?"})

	assert.Equal(t, "capital of Italy?", <-h.prompts)
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	require.NotEmpty(t, h.sink.updates)
	assert.Contains(t, h.sink.updates[len(h.sink.updates)-1].Fallback, "Paris")
}

func TestHandle_Markdown(t *testing.T) {
	h := newHarness(t)

	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, MessageID: 3, Text: "/md **bold**"})

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	require.Len(t, h.sink.posts, 1)
	assert.Equal(t, chat.ModeMarkdownV2, h.sink.posts[0].ParseMode)
	assert.Equal(t, "*bold*", h.sink.posts[0].Text)
	assert.Equal(t, "**bold**", h.sink.posts[0].Fallback)
}

func TestHandle_Help(t *testing.T) {
	h := newHarness(t, CommandMarkdown)

	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, MessageID: 3, Text: "/start"})

	texts := h.sink.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "/answer_it")
	assert.Contains(t, texts[0], "/gemini - Ask Gemini")
	assert.NotContains(t, texts[0], "/md")
}

func TestHandle_DisabledCommandIsIgnored(t *testing.T) {
	h := newHarness(t, CommandMarkdown)

	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, MessageID: 3, Text: "/md **bold**"})

	assert.Empty(t, h.sink.texts())
}

func TestHandle_UnknownCommandIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, MessageID: 3, Text: "/nope hi"})

	assert.Empty(t, h.sink.texts())
	_, ok := h.capture.Peek(1)
	assert.False(t, ok)
}

func TestHandle_RecoversPanic(t *testing.T) {
	log := &sinkLog{}
	handlers := NewHandlers(Deps{Sink: log.mock()})

	assert.NotPanics(t, func() {
		handlers.Handle(context.Background(), &chat.Incoming{ChatID: 1, MessageID: 3, Text: "/answer_it"})
	})
	assert.Equal(t, []string{ReplyGeneric}, log.texts())
}

func TestRun_WaitsForHandlers(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)

	updates := make(chan *chat.Incoming, 3)
	for i := int64(1); i <= 3; i++ {
		updates <- &chat.Incoming{ChatID: i, UserID: 2, MessageID: 1, Text: "hello"}
	}
	close(updates)

	h.handlers.Run(context.Background(), updates)

	assert.Equal(t, 3, h.capture.Len())
}
