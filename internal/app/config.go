package app

import (
	"answer-bot/internal/bot"
	"answer-bot/internal/chat"
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"answer-bot/internal/repository/db"
	"answer-bot/internal/repository/memory"
	"answer-bot/internal/repository/postgres"
	"answer-bot/internal/service/answer"
	"answer-bot/internal/service/ask"
	"answer-bot/internal/service/capture"
	"answer-bot/internal/service/chatlog"
	"answer-bot/internal/service/conversation"
	"answer-bot/internal/service/llm"
	"answer-bot/internal/service/summary"
	"answer-bot/internal/service/tools"
	"answer-bot/internal/telegraph"
	"answer-bot/internal/webtext"
	"answer-bot/pkg/validation"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const janitorInterval = time.Minute

// Config holds all application dependencies and configuration
type Config struct {
	// Centralized application configuration
	AppConfig *config.AppConfig
	// History persists per-provider conversations
	History db.HistoryStore

	Sink         *chat.TelegramSink
	Conversation *conversation.ConversationService
	Aggregator   *answer.Aggregator
	Ask          *ask.AskService
	ChatLog      *chatlog.ChatLogService
	Handlers     *bot.Handlers
}

// Options tune how the container is built
type Options struct {
	// Sources overrides the provider kind registry, mainly for tests.
	Sources *llm.Registry
	// DisabledCommands are turned off for this process.
	DisabledCommands []string
	// BotName is used when the configuration does not set one.
	BotName string
}

// NewConfig builds every component on top of a chat transport client
func NewConfig(ctx context.Context, appConfig *config.AppConfig, api chat.BotAPI, opts Options) (*Config, error) {
	appConfig.Providers.Disable(opts.DisabledCommands)

	history, messages, err := newStores(appConfig.Database)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: appConfig.Fetch.Timeout}
	sink := chat.NewTelegramSink(api, &http.Client{})
	fetcher := webtext.NewFetcher(appConfig.Fetch, httpClient)
	registry := tools.NewDefaultRegistry(tools.WebSearchTool(httpClient, ""), fetcher)

	sources := opts.Sources
	if sources == nil {
		sources = llm.NewRegistry()
	}
	built := sources.BuildSources(ctx, appConfig.Providers.All())

	validator := validation.NewPromptValidator()
	var aggregated, all []*answer.Backend
	var commands []string
	for _, p := range appConfig.Providers.Enabled() {
		src, ok := built[p.Name]
		if !ok {
			continue
		}
		if err := validator.ValidateCommand(p.Command); p.Command != "" && err != nil {
			logger.Log.WithField("provider", p.Name).WithError(err).Warn("Invalid provider command, provider is aggregate-only")
			p.Command = ""
		}
		b := answer.NewBackend(p, src, sink, registry)
		all = append(all, b)
		if p.Aggregate {
			aggregated = append(aggregated, b)
		}
		if p.Command != "" {
			commands = append(commands, p.Command)
		}
	}
	logger.Log.WithFields(logrus.Fields{
		"backends":   len(all),
		"aggregated": len(aggregated),
	}).Info("Providers ready")

	var summaryBackend *answer.Backend
	var summarizer answer.Summarizer
	if name := appConfig.Aggregator.SummaryProvider; name != "" {
		p, _ := appConfig.Providers.Get(name)
		if src, ok := built[p.Name]; ok {
			summaryBackend = answer.NewBackend(p, src, sink, registry)
			summarizer = summary.NewSummaryService(summaryBackend, appConfig.Aggregator.SummaryPrompt, appConfig.Aggregator.MaxDocumentBytes)
		} else {
			logger.Log.WithField("provider", name).Warn("Summary provider unavailable, summary pass disabled")
		}
	}

	botName := appConfig.Telegram.BotName
	if botName == "" {
		botName = opts.BotName
	}

	var chatLog *chatlog.ChatLogService
	if appConfig.ChatLog.Enabled {
		var recap chatlog.Summarizer
		if src, ok := built[appConfig.ChatLog.Provider]; ok {
			p, _ := appConfig.Providers.Get(appConfig.ChatLog.Provider)
			recapBackend := answer.NewBackend(p, src, sink, nil)
			recap = summary.NewSummaryService(recapBackend, chatlog.DefaultRecapPrompt, appConfig.ChatLog.MaxTranscriptBytes)
		} else {
			logger.Log.Warn("No recap provider available, /summary disabled")
		}
		chatLog = chatlog.NewChatLogService(messages, recap, appConfig.ChatLog)
	}

	captured := capture.NewStore(appConfig.Capture)
	documents := telegraph.NewClient(appConfig.Telegraph, &http.Client{Timeout: 30 * time.Second})
	aggregator := answer.NewAggregator(appConfig.Aggregator, aggregated, answer.Dependencies{
		Sink:       sink,
		Images:     sink,
		Documents:  documents,
		Capture:    captured,
		Enricher:   fetcher,
		Summarizer: summarizer,
		BotName:    botName,
	})

	conversations := conversation.NewConversationService(history)
	askService := ask.NewAskService(all, conversations, sink, ask.Options{
		Enricher:       fetcher,
		Images:         sink,
		Summary:        summaryBackend,
		MaxPromptChars: appConfig.Aggregator.MaxPromptChars,
	})

	handlers := bot.NewHandlers(bot.Deps{
		Sink:             sink,
		Aggregator:       aggregator,
		Ask:              askService,
		Capture:          captured,
		ChatLog:          chatLog,
		BotName:          botName,
		ProviderCommands: commands,
		Disabled:         opts.DisabledCommands,
	})

	return &Config{
		AppConfig:    appConfig,
		History:      history,
		Sink:         sink,
		Conversation: conversations,
		Aggregator:   aggregator,
		Ask:          askService,
		ChatLog:      chatLog,
		Handlers:     handlers,
	}, nil
}

// newStores opens the conversation history and the chat message log. The
// postgres backend serves both from one connection.
func newStores(cfg config.DatabaseConfig) (db.HistoryStore, db.MessageLog, error) {
	if cfg.HistoryBackend != "postgres" {
		logger.Log.Info("Using in-memory conversation history and chat log")
		return memory.NewHistoryStore(), memory.NewMessageLog(), nil
	}

	logger.Log.Info("Initializing database...")
	database, err := postgres.NewPostgresDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, database, nil
}

// Run registers chat commands, starts the history janitor and handles updates until ctx is done
func (c *Config) Run(ctx context.Context) {
	if err := c.Sink.RegisterCommands(c.Handlers.Commands()); err != nil {
		logger.Log.WithError(err).Warn("Failed to register chat commands")
	}

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		if ttl := c.maxHistoryTTL(); ttl > 0 {
			c.Conversation.RunJanitor(ctx, janitorInterval, ttl)
		}
	}()

	logger.Log.Info("Listening for chat updates")
	c.Handlers.Run(ctx, c.Sink.Updates(ctx, c.AppConfig.Telegram.PollTimeout))
	<-janitorDone
}

func (c *Config) maxHistoryTTL() time.Duration {
	var ttl time.Duration
	for _, p := range c.AppConfig.Providers.Enabled() {
		ttl = max(ttl, p.HistoryTTL)
	}
	return ttl
}

// Close releases the history store
func (c *Config) Close() error {
	return c.History.Close()
}
