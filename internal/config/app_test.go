package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProviders(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(testProvidersYAML), 0644); err != nil {
		t.Fatalf("Failed to write providers file: %v", err)
	}
	return path
}

func TestLoadConfig_RequiresBotToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() error = nil, want error without TELEGRAM_BOT_TOKEN")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))
	t.Setenv("CAPTURE_TTL", "")
	t.Setenv("AGGREGATE_MAX_STREAMING", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Capture.TTL != 120*time.Second {
		t.Errorf("Capture.TTL = %v, want 120s", cfg.Capture.TTL)
	}
	if cfg.Aggregator.MaxStreaming != 5 {
		t.Errorf("Aggregator.MaxStreaming = %d, want 5", cfg.Aggregator.MaxStreaming)
	}
	if cfg.Aggregator.MaxBlocking != 2 {
		t.Errorf("Aggregator.MaxBlocking = %d, want 2", cfg.Aggregator.MaxBlocking)
	}
	if cfg.Database.HistoryBackend != "memory" {
		t.Errorf("Database.HistoryBackend = %s, want memory", cfg.Database.HistoryBackend)
	}
	if !cfg.Aggregator.DeletePlaceholders {
		t.Error("Aggregator.DeletePlaceholders should default to true")
	}
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))
	t.Setenv("AGGREGATE_MAX_STREAMING", "many")
	t.Setenv("CAPTURE_TTL", "two minutes")
	t.Setenv("CAPTURE_APPEND", "yes please")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Aggregator.MaxStreaming != 5 {
		t.Errorf("Aggregator.MaxStreaming = %d, want default 5", cfg.Aggregator.MaxStreaming)
	}
	if cfg.Capture.TTL != 120*time.Second {
		t.Errorf("Capture.TTL = %v, want default 120s", cfg.Capture.TTL)
	}
	if cfg.Capture.Append {
		t.Error("Capture.Append should fall back to false")
	}
}

func TestLoadConfig_UnknownSummaryProviderIsDropped(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))
	t.Setenv("AGGREGATE_SUMMARY_PROVIDER", "Nobody")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Aggregator.SummaryProvider != "" {
		t.Errorf("SummaryProvider = %q, want empty", cfg.Aggregator.SummaryProvider)
	}
}

func TestLoadConfig_RejectsUnknownHistoryBackend(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))
	t.Setenv("HISTORY_BACKEND", "redis")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() error = nil, want error for unknown history backend")
	}
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: "1", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	want := "host=h port=1 user=u password=p dbname=n sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestLoadConfig_ChatLog(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))
	t.Setenv("CHATLOG_TIMEZONE", "Asia/Shanghai")
	t.Setenv("CHATLOG_RETENTION", "")
	t.Setenv("CHATLOG_PROVIDER", "Nobody")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.ChatLog.Enabled {
		t.Error("ChatLog.Enabled should default to true")
	}
	if cfg.ChatLog.Location.String() != "Asia/Shanghai" {
		t.Errorf("ChatLog.Location = %v, want Asia/Shanghai", cfg.ChatLog.Location)
	}
	if cfg.ChatLog.Retention != 30*24*time.Hour {
		t.Errorf("ChatLog.Retention = %v, want 720h", cfg.ChatLog.Retention)
	}
	if cfg.ChatLog.Provider != "" {
		t.Errorf("ChatLog.Provider = %q, want empty for unknown provider", cfg.ChatLog.Provider)
	}
}

func TestLoadConfig_RejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PROVIDERS_CONFIG_PATH", writeProviders(t))
	t.Setenv("CHATLOG_TIMEZONE", "Mars/Olympus")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() error = nil, want error for unknown time zone")
	}
}
