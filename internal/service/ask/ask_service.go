package ask

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/logger"
	"answer-bot/internal/repository/db"
	"answer-bot/internal/service/answer"
	"answer-bot/internal/service/conversation"
	"answer-bot/internal/service/llm"
	"answer-bot/pkg/validation"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownCommand    = errors.New("unknown provider command")
	ErrNoSummaryProvider = errors.New("summary provider not configured")
)

const (
	clearCommand = "clear"
	newPrefix    = "new "
)

// AskRequest is a prompt sent to one provider through its chat command
type AskRequest struct {
	ChatID      int64
	UserID      int64
	MessageID   int
	Prompt      string
	ImageFileID string
}

// Options are the optional collaborators of the service
type Options struct {
	Enricher       answer.Enricher
	Images         chat.ImageLoader
	Summary        *answer.Backend
	MaxPromptChars int
}

// AskService answers provider-specific commands with per-user history
type AskService struct {
	backends  map[string]*answer.Backend
	history   *conversation.ConversationService
	sink      chat.Sink
	opts      Options
	validator *validation.PromptValidator
}

// NewAskService creates a new AskService. Backends are keyed by their provider command.
func NewAskService(backends []*answer.Backend, history *conversation.ConversationService, sink chat.Sink, opts Options) *AskService {
	byCommand := make(map[string]*answer.Backend, len(backends))
	for _, b := range backends {
		if cmd := strings.ToLower(b.Provider().Command); cmd != "" {
			byCommand[cmd] = b
		}
	}
	return &AskService{
		backends:  byCommand,
		history:   history,
		sink:      sink,
		opts:      opts,
		validator: validation.NewPromptValidator(),
	}
}

// Commands returns the provider commands in a stable order
func (s *AskService) Commands(order []string) []chat.Command {
	var commands []chat.Command
	for _, cmd := range order {
		b, ok := s.backends[strings.ToLower(cmd)]
		if !ok {
			continue
		}
		commands = append(commands, chat.Command{Name: cmd, Description: "Ask " + b.Name()})
	}
	return commands
}

// Handles reports whether command belongs to a provider
func (s *AskService) Handles(command string) bool {
	_, ok := s.backends[strings.ToLower(command)]
	return ok
}

// Ask sends a prompt to the provider behind command. "clear" wipes the
// history, a "new " prefix wipes it before asking.
func (s *AskService) Ask(ctx context.Context, command string, req AskRequest) (*answer.Answer, error) {
	backend, ok := s.backends[strings.ToLower(command)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	provider := backend.Provider()
	key := db.Key{Provider: provider.Name, UserID: req.UserID}
	fields := logrus.Fields{"provider": provider.Name, "chat_id": req.ChatID, "user_id": req.UserID}

	prompt := strings.TrimSpace(req.Prompt)
	if strings.EqualFold(prompt, clearCommand) {
		if err := s.history.Clear(ctx, key); err != nil {
			return nil, err
		}
		logger.Log.WithFields(fields).Info("History cleared")
		if _, err := s.sink.Post(ctx, req.ChatID, req.MessageID, chat.RawText(provider.Name+" history cleared.")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if len(prompt) >= len(newPrefix) && strings.EqualFold(prompt[:len(newPrefix)], newPrefix) {
		if err := s.history.Clear(ctx, key); err != nil {
			return nil, err
		}
		prompt = strings.TrimSpace(prompt[len(newPrefix):])
	}

	if err := s.validator.ValidatePrompt(prompt, s.opts.MaxPromptChars); err != nil {
		return nil, err
	}

	var image *llm.Image
	if req.ImageFileID != "" && provider.Vision && s.opts.Images != nil {
		img, err := s.opts.Images.LoadImage(ctx, req.ImageFileID)
		if err != nil {
			logger.Log.WithFields(fields).WithError(err).Warn("Failed to load image, asking text only")
		} else {
			image = img
		}
	}

	enriched := s.enrich(ctx, prompt)

	history, err := s.history.History(ctx, key, conversation.PolicyFor(provider))
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("History unavailable, asking without it")
		history = nil
	}

	ans := backend.Answer(ctx, answer.AnswerRequest{
		ChatID:     req.ChatID,
		ReplyTo:    req.MessageID,
		Prompt:     enriched,
		Image:      image,
		History:    history,
		SplitFinal: true,
	})

	if ans.State == answer.Completed {
		if err := s.history.Record(ctx, key, enriched, ans.Markdown); err != nil {
			logger.Log.WithFields(fields).WithError(err).Warn("Failed to record history")
		}
	}
	return &ans, nil
}

// Summarize answers a question with the summary provider, without history
func (s *AskService) Summarize(ctx context.Context, req AskRequest) (*answer.Answer, error) {
	if s.opts.Summary == nil {
		return nil, ErrNoSummaryProvider
	}
	prompt := strings.TrimSpace(req.Prompt)
	if err := s.validator.ValidatePrompt(prompt, s.opts.MaxPromptChars); err != nil {
		return nil, err
	}

	ans := s.opts.Summary.Answer(ctx, answer.AnswerRequest{
		ChatID:     req.ChatID,
		ReplyTo:    req.MessageID,
		Prompt:     s.enrich(ctx, prompt),
		SplitFinal: true,
	})
	return &ans, nil
}

func (s *AskService) enrich(ctx context.Context, prompt string) string {
	if s.opts.Enricher == nil {
		return prompt
	}
	return s.opts.Enricher.Enrich(ctx, prompt)
}
