package answer

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"answer-bot/internal/service/capture"
	"answer-bot/internal/service/llm"
	"answer-bot/internal/telegraph"
	"answer-bot/pkg/validation"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoMessage     = errors.New("no message to answer")
	ErrEmptyPrompt   = validation.ErrEmptyPrompt
	ErrPromptTooLong = validation.ErrPromptTooLong
	ErrNoBackends    = errors.New("no backends available")
	ErrPublish       = errors.New("failed to publish answers")
)

const (
	defaultMaxStreaming = 5
	defaultMaxBlocking  = 2
	linkLabel           = "Answers"
)

// RunState is the lifecycle state of one aggregate run
type RunState int

const (
	Idle RunState = iota
	Dispatched
	Joining
	Composing
	Published
	Summarizing
	Done
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Joining:
		return "joining"
	case Composing:
		return "composing"
	case Published:
		return "published"
	case Summarizing:
		return "summarizing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("run_state(%d)", int(s))
	}
}

// Summarizer condenses a composed document
type Summarizer interface {
	Summarize(ctx context.Context, document string) (string, error)
}

// AggregateRequest is one answer-it command
type AggregateRequest struct {
	ChatID           int64
	CommandMessageID int
	// ReplyTo is the message the command replied to. It takes precedence over
	// the captured message.
	ReplyTo *capture.Message
}

// AggregateResult is the outcome of one run
type AggregateResult struct {
	RunID    string
	Prompt   string
	Sections []Section
	Answers  []Answer
	Document string
	URL      string
	Summary  string
	Link     chat.MessageRef
	State    RunState
	Created  time.Time
}

// Dependencies are the collaborators of the Aggregator. Enricher, Images and
// Summarizer are optional.
type Dependencies struct {
	Sink       chat.Sink
	Images     chat.ImageLoader
	Documents  telegraph.DocumentStore
	Capture    *capture.Store
	Enricher   Enricher
	Summarizer Summarizer
	BotName    string
}

// Aggregator fans a captured message out to every backend and publishes the joined answers
type Aggregator struct {
	cfg       config.AggregatorConfig
	backends  []*Backend
	deps      Dependencies
	validator *validation.PromptValidator
	now       func() time.Time

	mu        sync.Mutex
	chatLocks map[int64]*chatLock
}

// chatLock serializes runs in one chat; refs counts holders and waiters
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewAggregator creates an aggregator over backends in their configured order
func NewAggregator(cfg config.AggregatorConfig, backends []*Backend, deps Dependencies) *Aggregator {
	if cfg.MaxStreaming <= 0 {
		cfg.MaxStreaming = defaultMaxStreaming
	}
	if cfg.MaxBlocking <= 0 {
		cfg.MaxBlocking = defaultMaxBlocking
	}
	return &Aggregator{
		cfg:       cfg,
		backends:  backends,
		deps:      deps,
		validator: validation.NewPromptValidator(),
		now:       time.Now,
		chatLocks: make(map[int64]*chatLock),
	}
}

// Backends returns the aggregated backends in dispatch order
func (a *Aggregator) Backends() []*Backend {
	return a.backends
}

type run struct {
	result *AggregateResult
	log    *logrus.Entry
}

func (r *run) transition(s RunState) {
	r.result.State = s
	r.log.WithField("state", s.String()).Debug("Aggregate state change")
}

// Run answers the captured or replied-to message with every selected backend,
// publishes the joined document and posts a link to it. Input errors are
// returned before anything is dispatched. Only a publish failure is fatal
// once backends ran.
func (a *Aggregator) Run(ctx context.Context, req AggregateRequest) (*AggregateResult, error) {
	r := &run{result: &AggregateResult{RunID: uuid.NewString(), State: Idle, Created: a.now()}}
	r.log = logger.Log.WithFields(logrus.Fields{"run_id": r.result.RunID, "chat_id": req.ChatID})

	msg, ok := a.source(req)
	if !ok {
		return nil, ErrNoMessage
	}

	prompt := NormalizePrompt(msg.Text, a.deps.BotName)
	if err := a.validator.ValidatePrompt(prompt, a.cfg.MaxPromptChars); err != nil {
		return nil, err
	}
	r.result.Prompt = prompt

	image := a.loadImage(ctx, msg)
	backends := a.selectBackends(image != nil)
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	enriched := prompt
	if a.deps.Enricher != nil {
		enriched = a.deps.Enricher.Enrich(ctx, prompt)
	}

	r.transition(Dispatched)
	r.log.WithFields(logrus.Fields{
		"backends":  len(backends),
		"has_image": image != nil,
	}).Info("Dispatching aggregate run")

	answers := a.dispatch(ctx, r, backends, AnswerRequest{
		ChatID:  req.ChatID,
		ReplyTo: msg.MessageID,
		Prompt:  enriched,
		Image:   image,
	})
	r.result.Answers = answers

	// one document per chat at a time
	unlock := a.lockChat(req.ChatID)
	defer unlock()

	r.transition(Composing)
	for _, ans := range answers {
		r.result.Sections = append(r.result.Sections, Section{Provider: ans.Provider, Markdown: ans.Markdown})
	}
	document := TruncateDocument(ComposeDocument(prompt, r.result.Sections, a.cfg.QuestionMaxChars), a.cfg.MaxDocumentBytes)
	r.result.Document = document

	url, err := a.deps.Documents.CreateDocument(ctx, a.cfg.DocumentTitle, document)
	if err != nil {
		r.log.WithError(err).Error("Failed to publish answers document")
		return r.result, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	r.result.URL = url

	link, err := a.deps.Sink.Post(ctx, req.ChatID, msg.MessageID, chat.LinkMessage(linkLabel, url, ""))
	if err != nil {
		r.log.WithError(err).Error("Failed to post answers link")
		return r.result, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	r.result.Link = link
	r.transition(Published)

	a.cleanup(ctx, r, req, answers)

	if a.deps.Summarizer != nil {
		r.transition(Summarizing)
		a.summarize(ctx, r)
	}

	r.transition(Done)
	r.log.WithField("url", url).Info("Aggregate run finished")
	return r.result, nil
}

// source picks the message to answer: the replied-to one, else the captured one
func (a *Aggregator) source(req AggregateRequest) (capture.Message, bool) {
	if req.ReplyTo != nil && (req.ReplyTo.Text != "" || req.ReplyTo.ImageFileID != "") {
		return *req.ReplyTo, true
	}
	if a.deps.Capture == nil {
		return capture.Message{}, false
	}
	return a.deps.Capture.Peek(req.ChatID)
}

func (a *Aggregator) loadImage(ctx context.Context, msg capture.Message) *llm.Image {
	if msg.ImageFileID == "" || a.deps.Images == nil {
		return nil
	}
	image, err := a.deps.Images.LoadImage(ctx, msg.ImageFileID)
	if err != nil {
		logger.Log.WithField("chat_id", msg.ChatID).WithError(err).Warn("Failed to load image, answering text only")
		return nil
	}
	return image
}

// selectBackends keeps vision backends for images and skips image-only backends for text
func (a *Aggregator) selectBackends(hasImage bool) []*Backend {
	var selected []*Backend
	for _, b := range a.backends {
		p := b.Provider()
		if hasImage && !p.Vision {
			continue
		}
		if !hasImage && p.ImageOnly {
			continue
		}
		selected = append(selected, b)
	}
	return selected
}

// dispatch runs every backend in its pool and joins them. Results keep the
// dispatch order regardless of completion order.
func (a *Aggregator) dispatch(ctx context.Context, r *run, backends []*Backend, req AnswerRequest) []Answer {
	answers := make([]Answer, len(backends))

	var streaming, blocking []int
	for i, b := range backends {
		if b.Provider().Streaming {
			streaming = append(streaming, i)
		} else {
			blocking = append(blocking, i)
		}
	}

	pool := func(indices []int, limit int) error {
		var g errgroup.Group
		g.SetLimit(limit)
		for _, i := range indices {
			g.Go(func() error {
				answers[i] = safeAnswer(ctx, backends[i], req)
				return nil
			})
		}
		return g.Wait()
	}

	var pools errgroup.Group
	pools.Go(func() error { return pool(streaming, a.cfg.MaxStreaming) })
	pools.Go(func() error { return pool(blocking, a.cfg.MaxBlocking) })
	r.transition(Joining)
	_ = pools.Wait()

	return answers
}

// safeAnswer turns a panicking backend into a failed answer
func safeAnswer(ctx context.Context, b *Backend, req AnswerRequest) (ans Answer) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.WithField("provider", b.Name()).WithField("panic", rec).Error("Backend panicked")
			ans = Answer{Provider: b.Name(), Markdown: FailureMarker, State: Failed, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return b.Answer(ctx, req)
}

func (a *Aggregator) cleanup(ctx context.Context, r *run, req AggregateRequest, answers []Answer) {
	if a.cfg.DeletePlaceholders {
		for _, ans := range answers {
			if !ans.HasPlaceholder {
				continue
			}
			if err := a.deps.Sink.Delete(ctx, ans.Placeholder); err != nil {
				r.log.WithField("provider", ans.Provider).WithError(err).Warn("Failed to delete placeholder")
			}
		}
	}
	if a.cfg.DeleteCommand && req.CommandMessageID != 0 {
		ref := chat.MessageRef{ChatID: req.ChatID, MessageID: req.CommandMessageID}
		if err := a.deps.Sink.Delete(ctx, ref); err != nil {
			r.log.WithError(err).Warn("Failed to delete command message")
		}
	}
}

// summarize runs the summary pass. Failures keep the link-only message.
func (a *Aggregator) summarize(ctx context.Context, r *run) {
	sctx := ctx
	if a.cfg.SummaryTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, a.cfg.SummaryTimeout)
		defer cancel()
	}

	summary, err := a.deps.Summarizer.Summarize(sctx, r.result.Document)
	if err != nil {
		r.log.WithError(err).Warn("Summary pass failed, keeping link only")
		return
	}
	r.result.Summary = summary

	document := TruncateDocument(PrependSummary(r.result.Document, summary), a.cfg.MaxDocumentBytes)
	url, err := a.deps.Documents.EditDocument(ctx, r.result.URL, a.cfg.DocumentTitle, document)
	if err != nil {
		r.log.WithError(err).Warn("Failed to add summary to document")
		url = r.result.URL
	} else {
		r.result.Document = document
		r.result.URL = url
	}

	note := chat.ClipText(summary, chat.MessageLimit-len(url)-64)
	if err := a.deps.Sink.Update(ctx, r.result.Link, chat.LinkMessage(linkLabel, url, note)); err != nil {
		r.log.WithError(err).Warn("Failed to add summary to link message")
	}
}

func (a *Aggregator) lockChat(chatID int64) func() {
	a.mu.Lock()
	l, ok := a.chatLocks[chatID]
	if !ok {
		l = &chatLock{}
		a.chatLocks[chatID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		a.mu.Lock()
		defer a.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(a.chatLocks, chatID)
		}
	}
}
