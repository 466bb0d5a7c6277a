package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testProvidersYAML = `
providers:
  - name: ChatGPT
    command: gpt
    kind: openai
    model: gpt-4o-mini
    api_key_env: TEST_OPENAI_KEY
    streaming: true
    vision: true
    aggregate: true
    push_interval: 2s
    timeout: 90s
  - name: Llama
    command: llama
    kind: openrouter
    api_key_env: TEST_OPENROUTER_KEY
    tools: [web_search]
  - name: Disabled
    command: off
    kind: openai
    api_key_env: TEST_OPENAI_KEY
    disabled: true
`

func fakeEnv(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestNewProvidersConfig_ValidConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "providers.yaml")

	if err := os.WriteFile(configPath, []byte(testProvidersYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := NewProvidersConfig(configPath)
	if err != nil {
		t.Fatalf("NewProvidersConfig() error = %v, want nil", err)
	}

	if got := len(config.All()); got != 3 {
		t.Errorf("All() returned %d providers, want 3", got)
	}
}

func TestNewProvidersConfig_FileNotFound(t *testing.T) {
	config, err := NewProvidersConfig("/nonexistent/path/providers.yaml")
	if err == nil {
		t.Error("NewProvidersConfig() error = nil, want error for nonexistent file")
	}
	if config != nil {
		t.Error("NewProvidersConfig() returned non-nil config for nonexistent file")
	}
}

func TestParseProviders_InvalidYAML(t *testing.T) {
	config, err := ParseProviders([]byte("providers: [ this is : not yaml"), fakeEnv(nil))
	if err == nil {
		t.Error("ParseProviders() error = nil, want error for invalid YAML")
	}
	if config != nil {
		t.Error("ParseProviders() returned non-nil config for invalid YAML")
	}
}

func TestParseProviders_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing name",
			yaml: "providers:\n  - kind: openai\n",
		},
		{
			name: "missing kind",
			yaml: "providers:\n  - name: A\n",
		},
		{
			name: "duplicate name",
			yaml: "providers:\n  - name: A\n    kind: openai\n  - name: a\n    kind: gemini\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProviders([]byte(tt.yaml), fakeEnv(nil)); err == nil {
				t.Errorf("ParseProviders() error = nil, want error")
			}
		})
	}
}

func TestParseProviders_EnabledAndDefaults(t *testing.T) {
	config, err := ParseProviders([]byte(testProvidersYAML), fakeEnv(map[string]string{
		"TEST_OPENAI_KEY": "sk-test",
	}))
	if err != nil {
		t.Fatalf("ParseProviders() error = %v", err)
	}

	gpt, ok := config.Get("chatgpt")
	if !ok {
		t.Fatal("Get(chatgpt) not found")
	}
	if !gpt.Enabled {
		t.Error("ChatGPT should be enabled when its key is present")
	}
	if gpt.PushInterval != 2*time.Second {
		t.Errorf("PushInterval = %v, want 2s", gpt.PushInterval)
	}
	if gpt.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", gpt.Timeout)
	}

	llama, _ := config.Get("Llama")
	if llama.Enabled {
		t.Error("Llama should be disabled without an API key")
	}
	if llama.HistoryMessages != defaultHistoryMessages {
		t.Errorf("HistoryMessages = %d, want %d", llama.HistoryMessages, defaultHistoryMessages)
	}
	if llama.MaxToolIterations != defaultMaxToolIterations {
		t.Errorf("MaxToolIterations = %d, want %d", llama.MaxToolIterations, defaultMaxToolIterations)
	}
	if llama.Timeout != defaultProviderTimeout {
		t.Errorf("Timeout = %v, want %v", llama.Timeout, defaultProviderTimeout)
	}

	disabled, _ := config.Get("Disabled")
	if disabled.Enabled {
		t.Error("explicitly disabled provider must not be enabled")
	}

	enabled := config.Enabled()
	if len(enabled) != 1 || enabled[0].Name != "ChatGPT" {
		t.Errorf("Enabled() = %+v, want only ChatGPT", enabled)
	}
}

func TestProvidersConfig_ByCommandAndDisable(t *testing.T) {
	config, err := ParseProviders([]byte(testProvidersYAML), fakeEnv(map[string]string{
		"TEST_OPENAI_KEY":     "sk-test",
		"TEST_OPENROUTER_KEY": "or-test",
	}))
	if err != nil {
		t.Fatalf("ParseProviders() error = %v", err)
	}

	if _, ok := config.ByCommand("LLAMA"); !ok {
		t.Error("ByCommand(LLAMA) should match case-insensitively")
	}
	if _, ok := config.ByCommand("off"); ok {
		t.Error("ByCommand(off) should not return a disabled provider")
	}

	config.Disable([]string{"llama"})
	if _, ok := config.ByCommand("llama"); ok {
		t.Error("ByCommand(llama) should fail after Disable")
	}
	if got := len(config.Enabled()); got != 1 {
		t.Errorf("Enabled() returned %d providers, want 1", got)
	}
}
