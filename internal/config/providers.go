package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPushInterval      = 1500 * time.Millisecond
	defaultProviderTimeout   = 120 * time.Second
	defaultHistoryMessages   = 10
	defaultHistoryTTL        = 10 * time.Minute
	defaultMaxToolIterations = 3
	defaultMaxTokens         = 2048
)

// Provider describes one completion backend as configured in the registry file
type Provider struct {
	// Name is the display name used for placeholders and document sections.
	Name string `yaml:"name"`
	// Command is the chat command that asks this provider directly.
	Command string `yaml:"command"`
	// Kind selects the client implementation (openrouter, openai, genkit, gemini).
	Kind      string `yaml:"kind"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Disabled  bool   `yaml:"disabled"`

	Streaming bool `yaml:"streaming"`
	Vision    bool `yaml:"vision"`
	ImageOnly bool `yaml:"image_only"`
	Aggregate bool `yaml:"aggregate"`

	PushInterval time.Duration `yaml:"push_interval"`
	Timeout      time.Duration `yaml:"timeout"`

	HistoryMessages int           `yaml:"history_messages"`
	HistoryTTL      time.Duration `yaml:"history_ttl"`

	MaxTokens         int      `yaml:"max_tokens"`
	SystemPrompt      string   `yaml:"system_prompt"`
	Tools             []string `yaml:"tools"`
	MaxToolIterations int      `yaml:"max_tool_iterations"`

	// APIKey is resolved from APIKeyEnv at load time.
	APIKey string `yaml:"-"`
	// Enabled is true when the provider is not disabled and its API key is present.
	Enabled bool `yaml:"-"`
}

type providersFile struct {
	Providers []Provider `yaml:"providers"`
}

// ProvidersConfig holds the provider registry in its configured order
type ProvidersConfig struct {
	providers []Provider
}

// NewProvidersConfig loads the provider registry from a YAML file
func NewProvidersConfig(configPath string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return ParseProviders(data, os.Getenv)
}

// ParseProviders parses registry YAML, resolving API keys through getenv
func ParseProviders(data []byte, getenv func(string) string) (*ProvidersConfig, error) {
	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing providers file: %w", err)
	}

	seen := make(map[string]bool, len(file.Providers))
	for i := range file.Providers {
		p := &file.Providers[i]
		if p.Name == "" {
			return nil, fmt.Errorf("provider #%d has no name", i+1)
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[key] = true
		if p.Kind == "" {
			return nil, fmt.Errorf("provider %q has no kind", p.Name)
		}
		applyProviderDefaults(p)
		if p.APIKeyEnv != "" {
			p.APIKey = getenv(p.APIKeyEnv)
		}
		p.Enabled = !p.Disabled && p.APIKey != ""
	}

	return &ProvidersConfig{providers: file.Providers}, nil
}

func applyProviderDefaults(p *Provider) {
	if p.PushInterval <= 0 {
		p.PushInterval = defaultPushInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultProviderTimeout
	}
	if p.HistoryMessages <= 0 {
		p.HistoryMessages = defaultHistoryMessages
	}
	if p.HistoryTTL <= 0 {
		p.HistoryTTL = defaultHistoryTTL
	}
	if p.MaxToolIterations <= 0 {
		p.MaxToolIterations = defaultMaxToolIterations
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}
}

// All returns every configured provider in registry order
func (pc *ProvidersConfig) All() []Provider {
	return pc.providers
}

// Enabled returns the enabled providers in registry order
func (pc *ProvidersConfig) Enabled() []Provider {
	var enabled []Provider
	for _, p := range pc.providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// Get looks a provider up by name, case-insensitively
func (pc *ProvidersConfig) Get(name string) (Provider, bool) {
	for _, p := range pc.providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Provider{}, false
}

// ByCommand looks an enabled provider up by its chat command
func (pc *ProvidersConfig) ByCommand(command string) (Provider, bool) {
	for _, p := range pc.providers {
		if p.Enabled && p.Command != "" && strings.EqualFold(p.Command, command) {
			return p, true
		}
	}
	return Provider{}, false
}

// Disable marks the providers behind the given commands as disabled
func (pc *ProvidersConfig) Disable(commands []string) {
	for _, cmd := range commands {
		for i := range pc.providers {
			if strings.EqualFold(pc.providers[i].Command, cmd) {
				pc.providers[i].Disabled = true
				pc.providers[i].Enabled = false
			}
		}
	}
}
