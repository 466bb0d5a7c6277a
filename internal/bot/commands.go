package bot

import (
	"answer-bot/internal/chat"
	"strings"
	"unicode"
)

// Command is a parsed chat command
type Command struct {
	Name string
	Args string
	// Colon is set for the "name: args" form.
	Colon bool
}

// ParseCommand recognizes "/name[@bot] args" and "name: args". Commands
// addressed to another bot are not ours.
func ParseCommand(text, botName string) (Command, bool) {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "/"); ok {
		head, args := splitHead(rest)
		name, mention, _ := strings.Cut(head, "@")
		if !validName(name) {
			return Command{}, false
		}
		if mention != "" && botName != "" && !strings.EqualFold(mention, botName) {
			return Command{}, false
		}
		return Command{Name: strings.ToLower(name), Args: args}, true
	}

	head, args, ok := strings.Cut(text, ":")
	if !ok || !validName(head) || (args != "" && !unicode.IsSpace(rune(args[0]))) {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(head), Args: strings.TrimSpace(args), Colon: true}, true
}

func splitHead(s string) (string, string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_' || (r >= '0' && r <= '9'):
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ExtractPrompt returns the command arguments, or the replied-to message
// when the command came without any.
func ExtractPrompt(in *chat.Incoming, cmd Command) string {
	if cmd.Args != "" {
		return cmd.Args
	}
	if in.ReplyTo != nil {
		return strings.TrimSpace(in.ReplyTo.Body())
	}
	return ""
}
