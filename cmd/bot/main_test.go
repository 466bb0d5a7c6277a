package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProvidersCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	data := `
providers:
  - name: Alpha
    command: alpha
    kind: openrouter
    api_key_env: ANSWER_BOT_TEST_ALPHA_KEY
    aggregate: true
  - name: Beta
    command: beta
    kind: gemini
    api_key_env: ANSWER_BOT_TEST_BETA_KEY
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANSWER_BOT_TEST_ALPHA_KEY", "key")
	t.Setenv("ANSWER_BOT_TEST_BETA_KEY", "key")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"providers", "--providers", path, "--disable-command", "beta"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("providers command failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", out.String())
	}
	if !strings.HasPrefix(lines[1], "Alpha") || !strings.HasSuffix(lines[1], "true") {
		t.Errorf("expected Alpha to be enabled, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Beta") || !strings.HasSuffix(lines[2], "false") {
		t.Errorf("expected Beta to be disabled, got %q", lines[2])
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("expected %q, got %q", version, out.String())
	}
}
