package answer

import (
	"context"
	"regexp"
	"strings"
)

// commandPrefix matches "/cmd", "/cmd@bot" or "cmd:" at the start of a message
var commandPrefix = regexp.MustCompile(`^(/[a-zA-Z][a-zA-Z0-9_]*(@\w+)?(\s+|$)|[a-zA-Z][a-zA-Z0-9_]*:\s+)`)

// Enricher expands URLs in a prompt into page text
type Enricher interface {
	Enrich(ctx context.Context, text string) string
}

// NormalizePrompt strips a leading command and mentions of the bot
func NormalizePrompt(text, botName string) string {
	text = strings.TrimSpace(text)
	text = commandPrefix.ReplaceAllString(text, "")
	if botName != "" {
		text = strings.ReplaceAll(text, "@"+botName, "")
	}
	return strings.TrimSpace(text)
}
