package chat

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit is the largest text, in bytes, sent in a single chat message
const MessageLimit = 4000

// SplitText splits text into parts of at most limit bytes, preferring line,
// sentence and word boundaries in that order
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		parts = append(parts, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func splitPoint(text string, limit int) int {
	window := text[:limit]
	for _, sep := range []string{"\n", ". ", " "} {
		if i := strings.LastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	return runeBoundary(text, limit)
}

// runeBoundary returns the largest index <= n that does not split a UTF-8 sequence
func runeBoundary(text string, n int) int {
	if n >= len(text) {
		return len(text)
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return n
}

// ClipText cuts text to at most limit bytes, marking the cut with an ellipsis
func ClipText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	const ellipsis = "…"
	return text[:runeBoundary(text, limit-len(ellipsis))] + ellipsis
}
