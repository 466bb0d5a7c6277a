package answer

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"answer-bot/internal/service/llm"
	"answer-bot/internal/service/tools"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Markers shown in place of an answer
const (
	FailureMarker    = "answer wrong"
	TruncationMarker = "[answer truncated: timed out]"
)

// finalPushTimeout bounds the last chat update once the task context is gone
const finalPushTimeout = 15 * time.Second

// NoAnswerMarker is the text of a provider that produced nothing before its timeout
func NoAnswerMarker(who string) string {
	return who + " did not answer."
}

// State is the lifecycle state of one backend task
type State int

const (
	Running State = iota
	Completed
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AnswerRequest is one prompt dispatched to a backend
type AnswerRequest struct {
	ChatID  int64
	ReplyTo int
	Prompt  string
	Image   *llm.Image
	History []llm.Message
	// SplitFinal posts answers longer than one chat message as several parts.
	// Otherwise the final push is clipped to one message.
	SplitFinal bool
}

// Answer is the terminal result of one backend task
type Answer struct {
	Provider string
	// Markdown is the raw answer text, or a marker when the provider failed.
	Markdown       string
	Placeholder    chat.MessageRef
	HasPlaceholder bool
	State          State
	Err            error
	Started        time.Time
	Elapsed        time.Duration
}

// Backend wraps a completion source behind the placeholder/stream/final-render cycle
type Backend struct {
	provider config.Provider
	source   llm.CompletionSource
	sink     chat.Sink
	tools    *tools.Registry
	now      func() time.Time
}

// NewBackend creates a backend adapter for one provider. registry may be nil.
func NewBackend(provider config.Provider, source llm.CompletionSource, sink chat.Sink, registry *tools.Registry) *Backend {
	return &Backend{
		provider: provider,
		source:   source,
		sink:     sink,
		tools:    registry,
		now:      time.Now,
	}
}

// Name returns the provider display name
func (b *Backend) Name() string {
	return b.provider.Name
}

// Provider returns the provider configuration
func (b *Backend) Provider() config.Provider {
	return b.provider
}

// Answer posts a placeholder, generates an answer and renders it into the
// placeholder. Provider errors never escape: they become the answer state.
func (b *Backend) Answer(ctx context.Context, req AnswerRequest) Answer {
	throttler := NewThrottler(b.provider.PushInterval, b.provider.Timeout, b.now)
	ans := Answer{Provider: b.provider.Name, State: Running, Started: throttler.Started()}
	fields := logrus.Fields{"provider": b.provider.Name, "chat_id": req.ChatID}

	ref, err := b.sink.Post(ctx, req.ChatID, req.ReplyTo, chat.Placeholder(b.provider.Name))
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("Failed to post placeholder")
	} else {
		ans.Placeholder, ans.HasPlaceholder = ref, true
	}

	taskCtx, cancel := b.taskContext(ctx, throttler)
	defer cancel()

	pusher := &progressPusher{ctx: taskCtx, backend: b, ref: ref, enabled: ans.HasPlaceholder, throttler: throttler}
	text, genErr := b.run(taskCtx, llm.NewRequest(req.Prompt, req.Image, req.History), pusher.push)

	ans.Elapsed = throttler.Elapsed()
	switch {
	case genErr == nil && strings.TrimSpace(text) == "":
		ans.State = Failed
		ans.Err = errors.New("empty answer")
		ans.Markdown = NoAnswerMarker(b.provider.Name)
	case genErr == nil:
		ans.State = Completed
		ans.Markdown = text
	case taskCtx.Err() != nil || throttler.Expired():
		ans.State = TimedOut
		ans.Err = genErr
		if strings.TrimSpace(text) == "" {
			ans.Markdown = NoAnswerMarker(b.provider.Name)
		} else {
			ans.Markdown = strings.TrimRight(text, "\n") + "\n\n" + TruncationMarker
		}
	default:
		ans.State = Failed
		ans.Err = genErr
		ans.Markdown = FailureMarker
	}

	fields["state"] = ans.State.String()
	fields["elapsed_ms"] = ans.Elapsed.Milliseconds()
	if ans.Err != nil {
		logger.Log.WithFields(fields).WithError(ans.Err).Warn("Provider did not complete")
	} else {
		logger.Log.WithFields(fields).WithField("answer_chars", len(ans.Markdown)).Info("Provider answered")
	}

	if ans.HasPlaceholder {
		b.pushFinal(ctx, ref, req, ans.Markdown)
	}
	return ans
}

// Generate runs the source without chat output, bounded by the provider timeout
func (b *Backend) Generate(ctx context.Context, req llm.CompletionRequest) (string, error) {
	throttler := NewThrottler(b.provider.PushInterval, b.provider.Timeout, b.now)
	taskCtx, cancel := b.taskContext(ctx, throttler)
	defer cancel()

	text, err := b.run(taskCtx, req, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.provider.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s returned an empty answer", b.provider.Name)
	}
	return text, nil
}

// taskContext enforces the provider timeout on the wall clock
func (b *Backend) taskContext(ctx context.Context, throttler *Throttler) (context.Context, context.CancelFunc) {
	if deadline := throttler.Deadline(); !deadline.IsZero() {
		logger.Log.WithFields(logrus.Fields{
			"provider": b.provider.Name,
			"deadline": deadline.Format(time.RFC3339),
		}).Debug("Starting provider task")
		return context.WithTimeout(ctx, b.provider.Timeout)
	}
	return context.WithCancel(ctx)
}

// run drives the source, executing tool calls until the model answers or the
// iteration bound is hit. The text accumulated so far is returned with any error.
func (b *Backend) run(ctx context.Context, req llm.CompletionRequest, progress func(string)) (string, error) {
	if req.System == "" {
		req.System = b.provider.SystemPrompt
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = b.provider.MaxTokens
	}
	if b.tools != nil && len(b.provider.Tools) > 0 {
		req.Tools = b.tools.Specs(b.provider.Tools)
	}

	var out strings.Builder
	for iteration := 0; ; iteration++ {
		handle, err := b.source.Complete(ctx, req)
		if err != nil {
			return out.String(), err
		}
		text, calls, err := consume(ctx, handle, &out, progress)
		if err != nil {
			return out.String(), err
		}
		if len(calls) == 0 || len(req.Tools) == 0 {
			return out.String(), nil
		}
		if iteration >= b.provider.MaxToolIterations {
			logger.Log.WithFields(logrus.Fields{
				"provider":   b.provider.Name,
				"iterations": iteration,
			}).Warn("Tool iteration limit reached, returning partial answer")
			return out.String(), nil
		}

		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			result := b.tools.Execute(ctx, call)
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID})
		}
		if ctx.Err() != nil {
			return out.String(), ctx.Err()
		}
	}
}

// consume reads one completion into out, returning this round's text and tool calls
func consume(ctx context.Context, h *llm.CompletionHandle, out *strings.Builder, progress func(string)) (string, []llm.ToolCall, error) {
	if !h.Streaming() {
		text := h.BlockingResult()
		out.WriteString(text)
		return text, h.ToolCalls(), nil
	}

	var round strings.Builder
	var calls []llm.ToolCall
	deltas := h.StreamDeltas()
	for {
		select {
		case <-ctx.Done():
			return round.String(), calls, ctx.Err()
		case chunk, ok := <-deltas:
			if !ok {
				return round.String(), calls, nil
			}
			if chunk.Err != nil {
				return round.String(), calls, chunk.Err
			}
			calls = append(calls, chunk.ToolCalls...)
			if chunk.Content == "" {
				continue
			}
			round.WriteString(chunk.Content)
			out.WriteString(chunk.Content)
			if progress != nil {
				progress(out.String())
			}
		}
	}
}

// progressPusher sends throttled raw in-progress updates to the placeholder
type progressPusher struct {
	ctx       context.Context
	backend   *Backend
	ref       chat.MessageRef
	enabled   bool
	throttler *Throttler
	last      string
}

func (p *progressPusher) push(text string) {
	if !p.enabled || !p.throttler.ShouldPush() {
		return
	}
	name := p.backend.provider.Name
	body := name + ":\n" + chat.ClipText(text, chat.MessageLimit-len(name)-2)
	if body == p.last {
		return
	}
	p.last = body
	if err := p.backend.sink.Update(p.ctx, p.ref, chat.RawText(body)); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"provider":   p.backend.provider.Name,
			"message_id": p.ref.MessageID,
		}).WithError(err).Debug("Progress update failed")
	}
}

// pushFinal renders the answer into the placeholder. It runs after the task
// context has expired, so it detaches from cancellation.
func (b *Backend) pushFinal(ctx context.Context, ref chat.MessageRef, req AnswerRequest, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalPushTimeout)
	defer cancel()

	var err error
	if req.SplitFinal {
		err = chat.UpdateSplit(ctx, b.sink, ref, req.ReplyTo, b.provider.Name, text)
	} else {
		err = b.sink.Update(ctx, ref, chat.TryRender(b.provider.Name, chat.ClipText(text, chat.MessageLimit-len(b.provider.Name)-2)))
	}
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"provider":   b.provider.Name,
			"message_id": ref.MessageID,
		}).WithError(err).Warn("Final update failed")
	}
}
