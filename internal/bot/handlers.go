package bot

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/logger"
	"answer-bot/internal/service/answer"
	"answer-bot/internal/service/ask"
	"answer-bot/internal/service/capture"
	"answer-bot/internal/service/chatlog"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Built-in commands
const (
	CommandAnswerIt  = "answer_it"
	CommandAggregate = "aggregate"
	CommandSummarize = "summarize"
	CommandMarkdown  = "md"
	CommandHelp      = "help"
	CommandStart     = "start"
	CommandRecap     = "summary"
	CommandStats     = "stats"
	CommandSearch    = "search"
)

// User-visible replies
const (
	ReplyEmptyPrompt = "Please provide info after start words."
	ReplyGeneric     = "Something wrong, please check the log"
	ReplyNoMessage   = "Nothing to answer. Send a message first, or reply to one with /" + CommandAnswerIt + "."
	ReplyTooLong     = "The prompt is too long."
	ReplyNoBackends  = "No provider can answer this message."
	ReplyBadWindow   = "Unsupported time range. Use today, or a number followed by d, h or m, like 2d."
	ReplyNoHistory   = "No messages found."
	ReplyNoKeyword   = "Please provide a keyword to search for."
	ReplyNoRecap     = "Recaps are not configured."
)

// Deps are the services the router dispatches to
type Deps struct {
	Sink       chat.Sink
	Aggregator *answer.Aggregator
	Ask        *ask.AskService
	Capture    *capture.Store
	// ChatLog records group messages; nil disables recaps, stats and search.
	ChatLog *chatlog.ChatLogService
	BotName string
	// ProviderCommands lists provider commands in registry order.
	ProviderCommands []string
	// Disabled lists built-in commands turned off at startup.
	Disabled []string
}

// Handlers routes incoming chat messages to the services
type Handlers struct {
	deps     Deps
	disabled map[string]bool
}

// NewHandlers creates a new router
func NewHandlers(deps Deps) *Handlers {
	disabled := make(map[string]bool, len(deps.Disabled))
	for _, c := range deps.Disabled {
		disabled[strings.ToLower(c)] = true
	}
	return &Handlers{deps: deps, disabled: disabled}
}

// Commands returns the command list advertised to chat clients
func (h *Handlers) Commands() []chat.Command {
	var commands []chat.Command
	builtin := []chat.Command{
		{Name: CommandAnswerIt, Description: "Answer the last message with every provider"},
		{Name: CommandSummarize, Description: "Ask the summary provider"},
		{Name: CommandMarkdown, Description: "Render markdown"},
		{Name: CommandHelp, Description: "List commands"},
	}
	if h.deps.ChatLog != nil {
		builtin = append(builtin,
			chat.Command{Name: CommandRecap, Description: "Recap the chat: today, 2d, 3h or 30m"},
			chat.Command{Name: CommandStats, Description: "Message counts per day"},
			chat.Command{Name: CommandSearch, Description: "Search the chat: keyword [count]"},
		)
	}
	for _, c := range builtin {
		if !h.disabled[c.Name] {
			commands = append(commands, c)
		}
	}
	if h.deps.Ask != nil {
		commands = append(commands, h.deps.Ask.Commands(h.deps.ProviderCommands)...)
	}
	return commands
}

// Run handles updates concurrently until the channel closes, then waits for
// in-flight handlers.
func (h *Handlers) Run(ctx context.Context, updates <-chan *chat.Incoming) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for in := range updates {
		wg.Add(1)
		go func(in *chat.Incoming) {
			defer wg.Done()
			h.Handle(ctx, in)
		}(in)
	}
}

// Handle processes one incoming message. Panics are recovered and answered
// with the generic error.
func (h *Handlers) Handle(ctx context.Context, in *chat.Incoming) {
	fields := logrus.Fields{"chat_id": in.ChatID, "message_id": in.MessageID, "user_id": in.UserID}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.WithFields(fields).WithField("panic", rec).WithField("stack", string(debug.Stack())).Error("Handler panicked")
			h.reply(ctx, in, ReplyGeneric)
		}
	}()

	cmd, ok := ParseCommand(in.Body(), h.deps.BotName)
	if ok && cmd.Colon && !h.known(cmd.Name) {
		ok = false
	}
	if !ok {
		h.captureMessage(in)
		h.logMessage(ctx, in)
		return
	}
	if h.disabled[cmd.Name] {
		logger.Log.WithFields(fields).WithField("command", cmd.Name).Debug("Command disabled")
		return
	}

	fields["command"] = cmd.Name
	logger.Log.WithFields(fields).Info("Handling command")

	var err error
	switch {
	case cmd.Name == CommandAnswerIt || cmd.Name == CommandAggregate:
		err = h.answerIt(ctx, in)
	case cmd.Name == CommandSummarize:
		err = h.summarize(ctx, in, cmd)
	case cmd.Name == CommandMarkdown:
		err = h.markdown(ctx, in, cmd)
	case cmd.Name == CommandHelp || cmd.Name == CommandStart:
		err = h.help(ctx, in)
	case h.deps.ChatLog != nil && cmd.Name == CommandRecap:
		err = h.recap(ctx, in, cmd)
	case h.deps.ChatLog != nil && cmd.Name == CommandStats:
		err = h.stats(ctx, in)
	case h.deps.ChatLog != nil && cmd.Name == CommandSearch:
		err = h.search(ctx, in, cmd)
	case h.deps.Ask != nil && h.deps.Ask.Handles(cmd.Name):
		err = h.ask(ctx, in, cmd)
	default:
		logger.Log.WithFields(fields).Debug("Unknown command, ignoring")
		return
	}

	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("Command failed")
		h.reply(ctx, in, replyFor(err))
	}
}

func (h *Handlers) known(name string) bool {
	switch name {
	case CommandAnswerIt, CommandAggregate, CommandSummarize, CommandMarkdown, CommandHelp, CommandStart:
		return true
	case CommandRecap, CommandStats, CommandSearch:
		return h.deps.ChatLog != nil
	}
	return h.deps.Ask != nil && h.deps.Ask.Handles(name)
}

// replyFor maps an error to the text shown in chat
func replyFor(err error) string {
	switch {
	case errors.Is(err, answer.ErrNoMessage):
		return ReplyNoMessage
	case errors.Is(err, answer.ErrEmptyPrompt):
		return ReplyEmptyPrompt
	case errors.Is(err, answer.ErrPromptTooLong):
		return ReplyTooLong
	case errors.Is(err, answer.ErrNoBackends):
		return ReplyNoBackends
	case errors.Is(err, chatlog.ErrBadWindow):
		return ReplyBadWindow
	case errors.Is(err, chatlog.ErrNoMessages):
		return ReplyNoHistory
	case errors.Is(err, chatlog.ErrNoKeyword):
		return ReplyNoKeyword
	case errors.Is(err, chatlog.ErrRecapUnavailable):
		return ReplyNoRecap
	default:
		return ReplyGeneric
	}
}

func (h *Handlers) captureMessage(in *chat.Incoming) {
	body := in.Body()
	if h.deps.Capture == nil || (body == "" && in.PhotoFileID == "") {
		return
	}
	// commands for other bots
	if strings.HasPrefix(body, "/") {
		return
	}
	h.deps.Capture.Capture(toCaptured(in))
}

func toCaptured(in *chat.Incoming) capture.Message {
	return capture.Message{
		ChatID:      in.ChatID,
		UserID:      in.UserID,
		MessageID:   in.MessageID,
		Text:        in.Body(),
		ImageFileID: in.PhotoFileID,
	}
}

func (h *Handlers) answerIt(ctx context.Context, in *chat.Incoming) error {
	req := answer.AggregateRequest{ChatID: in.ChatID, CommandMessageID: in.MessageID}
	if in.ReplyTo != nil {
		replied := toCaptured(in.ReplyTo)
		req.ReplyTo = &replied
	}
	_, err := h.deps.Aggregator.Run(ctx, req)
	return err
}

func (h *Handlers) summarize(ctx context.Context, in *chat.Incoming, cmd Command) error {
	_, err := h.deps.Ask.Summarize(ctx, ask.AskRequest{
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		MessageID: in.MessageID,
		Prompt:    ExtractPrompt(in, cmd),
	})
	return err
}

func (h *Handlers) ask(ctx context.Context, in *chat.Incoming, cmd Command) error {
	req := ask.AskRequest{
		ChatID:      in.ChatID,
		UserID:      in.UserID,
		MessageID:   in.MessageID,
		Prompt:      ExtractPrompt(in, cmd),
		ImageFileID: in.PhotoFileID,
	}
	if req.ImageFileID == "" && in.ReplyTo != nil {
		req.ImageFileID = in.ReplyTo.PhotoFileID
	}
	_, err := h.deps.Ask.Ask(ctx, cmd.Name, req)
	return err
}

func (h *Handlers) markdown(ctx context.Context, in *chat.Incoming, cmd Command) error {
	text := ExtractPrompt(in, cmd)
	if text == "" {
		return answer.ErrEmptyPrompt
	}
	body, err := chat.RenderMarkdown(text)
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	_, err = h.deps.Sink.Post(ctx, in.ChatID, in.MessageID, chat.Rendered{
		Text:      chat.ClipText(body, chat.MessageLimit),
		ParseMode: chat.ModeMarkdownV2,
		Fallback:  chat.ClipText(text, chat.MessageLimit),
	})
	return err
}

func (h *Handlers) help(ctx context.Context, in *chat.Incoming) error {
	var sb strings.Builder
	sb.WriteString("Send or reply to a message, then use /" + CommandAnswerIt + " to ask every provider at once.\n\n")
	for _, c := range h.Commands() {
		sb.WriteString("/" + c.Name + " - " + c.Description + "\n")
	}
	_, err := chat.PostText(ctx, h.deps.Sink, in.ChatID, in.MessageID, strings.TrimRight(sb.String(), "\n"))
	return err
}

func (h *Handlers) reply(ctx context.Context, in *chat.Incoming, text string) {
	if _, err := h.deps.Sink.Post(context.WithoutCancel(ctx), in.ChatID, in.MessageID, chat.RawText(text)); err != nil {
		logger.Log.WithField("chat_id", in.ChatID).WithError(err).Warn("Failed to send reply")
	}
}
