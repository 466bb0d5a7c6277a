package config

import (
	"answer-bot/internal/logger"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server     ServerConfig
	Telegram   TelegramConfig
	Telegraph  TelegraphConfig
	Database   DatabaseConfig
	Aggregator AggregatorConfig
	Capture    CaptureConfig
	Fetch      FetchConfig
	ChatLog    ChatLogConfig
	Providers  *ProvidersConfig
}

// ServerConfig holds the health endpoint configuration
type ServerConfig struct {
	Port string
}

// TelegramConfig holds chat transport configuration
type TelegramConfig struct {
	BotToken string
	// BotName overrides the name reported by the transport; used to strip @mentions.
	BotName string
	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int
}

// TelegraphConfig holds document store configuration
type TelegraphConfig struct {
	AccessToken string
	ShortName   string
	AuthorName  string
	AuthorURL   string
	BaseURL     string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	// HistoryBackend selects where conversation history lives: "memory" or "postgres".
	HistoryBackend string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
}

// AggregatorConfig holds the answer-it orchestrator configuration
type AggregatorConfig struct {
	MaxStreaming       int
	MaxBlocking        int
	MaxPromptChars     int
	QuestionMaxChars   int
	MaxDocumentBytes   int
	DeletePlaceholders bool
	DeleteCommand      bool
	SummaryProvider    string
	SummaryPrompt      string
	SummaryTimeout     time.Duration
	DocumentTitle      string
}

// CaptureConfig holds the recency capture configuration
type CaptureConfig struct {
	TTL        time.Duration
	Append     bool
	MaxEntries int
}

// FetchConfig holds URL enrichment configuration
type FetchConfig struct {
	ReaderURL string
	Timeout   time.Duration
	MaxChars  int
}

// ChatLogConfig holds the group message log used by recaps, stats and search
type ChatLogConfig struct {
	Enabled bool
	// Location is the time zone for "today" windows and daily stats.
	Location  *time.Location
	Retention time.Duration
	// Provider writes recaps; empty means the aggregator summary provider.
	Provider           string
	MaxTranscriptBytes int
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	// Load Server config
	config.Server = ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}

	// Load Telegram config
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable must be set")
	}
	config.Telegram = TelegramConfig{
		BotToken:    token,
		BotName:     os.Getenv("TELEGRAM_BOT_NAME"),
		PollTimeout: getEnvAsInt("TELEGRAM_POLL_TIMEOUT", 60),
	}

	// Load Telegraph config
	config.Telegraph = TelegraphConfig{
		AccessToken: os.Getenv("TELEGRAPH_TOKEN"),
		ShortName:   getEnvOrDefault("TELEGRAPH_SHORT_NAME", "answer_bot"),
		AuthorName:  getEnvOrDefault("TELEGRAPH_AUTHOR_NAME", "Answer Bot"),
		AuthorURL:   os.Getenv("TELEGRAPH_AUTHOR_URL"),
		BaseURL:     getEnvOrDefault("TELEGRAPH_BASE_URL", "https://api.telegra.ph"),
	}
	if config.Telegraph.AccessToken == "" {
		logger.Log.Warn("TELEGRAPH_TOKEN not set, a new telegra.ph account will be created at startup")
	}

	// Load Database config
	config.Database = DatabaseConfig{
		HistoryBackend: getEnvOrDefault("HISTORY_BACKEND", "memory"),
		Host:           getEnvOrDefault("DB_HOST", "postgres"),
		Port:           getEnvOrDefault("DB_PORT", "5432"),
		User:           getEnvOrDefault("DB_USER", "postgres"),
		Password:       getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:           getEnvOrDefault("DB_NAME", "answerbot"),
		SSLMode:        getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	if b := config.Database.HistoryBackend; b != "memory" && b != "postgres" {
		return nil, fmt.Errorf("HISTORY_BACKEND must be memory or postgres, got %q", b)
	}

	// Load Aggregator config
	config.Aggregator = AggregatorConfig{
		MaxStreaming:       getEnvAsInt("AGGREGATE_MAX_STREAMING", 5),
		MaxBlocking:        getEnvAsInt("AGGREGATE_MAX_BLOCKING", 2),
		MaxPromptChars:     getEnvAsInt("AGGREGATE_MAX_PROMPT_CHARS", 16000),
		QuestionMaxChars:   getEnvAsInt("AGGREGATE_QUESTION_MAX_CHARS", 1000),
		MaxDocumentBytes:   getEnvAsInt("AGGREGATE_MAX_DOCUMENT_BYTES", 60000),
		DeletePlaceholders: getEnvAsBool("AGGREGATE_DELETE_PLACEHOLDERS", true),
		DeleteCommand:      getEnvAsBool("AGGREGATE_DELETE_COMMAND", false),
		SummaryProvider:    os.Getenv("AGGREGATE_SUMMARY_PROVIDER"),
		SummaryPrompt:      getEnvOrDefault("AGGREGATE_SUMMARY_PROMPT", getDefaultSummarizationPrompt()),
		SummaryTimeout:     getEnvAsDuration("AGGREGATE_SUMMARY_TIMEOUT", 90*time.Second),
		DocumentTitle:      getEnvOrDefault("AGGREGATE_DOCUMENT_TITLE", "Answer it"),
	}

	// Load Capture config
	config.Capture = CaptureConfig{
		TTL:        getEnvAsDuration("CAPTURE_TTL", 120*time.Second),
		Append:     getEnvAsBool("CAPTURE_APPEND", false),
		MaxEntries: getEnvAsInt("CAPTURE_MAX_ENTRIES", 1000),
	}

	// Load Fetch config
	config.Fetch = FetchConfig{
		ReaderURL: getEnvOrDefault("READER_URL", "https://r.jina.ai/"),
		Timeout:   getEnvAsDuration("FETCH_TIMEOUT", 20*time.Second),
		MaxChars:  getEnvAsInt("FETCH_MAX_CHARS", 20000),
	}

	// Load ChatLog config
	tz := getEnvOrDefault("CHATLOG_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid CHATLOG_TIMEZONE %q: %w", tz, err)
	}
	config.ChatLog = ChatLogConfig{
		Enabled:            getEnvAsBool("CHATLOG_ENABLED", true),
		Location:           loc,
		Retention:          getEnvAsDuration("CHATLOG_RETENTION", 30*24*time.Hour),
		Provider:           getEnvOrDefault("CHATLOG_PROVIDER", config.Aggregator.SummaryProvider),
		MaxTranscriptBytes: getEnvAsInt("CHATLOG_MAX_TRANSCRIPT_BYTES", 60000),
	}

	// Load Providers config
	providersPath := getEnvOrDefault("PROVIDERS_CONFIG_PATH", filepath.Join("config", "providers.yaml"))
	providers, err := NewProvidersConfig(providersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers config: %w", err)
	}
	config.Providers = providers

	if name := config.Aggregator.SummaryProvider; name != "" {
		if _, ok := providers.Get(name); !ok {
			logger.Log.WithField("provider", name).Warn("Summary provider is not configured, summary pass disabled")
			config.Aggregator.SummaryProvider = ""
		}
	}
	if name := config.ChatLog.Provider; name != "" {
		if _, ok := providers.Get(name); !ok {
			logger.Log.WithField("provider", name).Warn("Recap provider is not configured, /summary disabled")
			config.ChatLog.Provider = ""
		}
	}

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}

func getDefaultSummarizationPrompt() string {
	return `You are given a question and the answers several assistants gave to it.

Instructions:
1. Compare the answers and point out where they agree
2. Call out contradictions or mistakes
3. Give the single best answer in a few sentences
4. Keep the summary brief and use the language of the question

Provide only the summary, without any preamble or additional commentary.`
}
