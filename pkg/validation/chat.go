package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyPrompt is returned for prompts with no visible text
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
	// ErrPromptTooLong is returned for prompts above the configured bound
	ErrPromptTooLong = errors.New("prompt is too long")
)

// PromptValidator validates prompts before they are dispatched to providers
type PromptValidator struct{}

// NewPromptValidator creates a new PromptValidator
func NewPromptValidator() *PromptValidator {
	return &PromptValidator{}
}

// ValidatePrompt checks that prompt is non-empty and at most maxChars runes.
// A non-positive maxChars disables the length check.
func (v *PromptValidator) ValidatePrompt(prompt string, maxChars int) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	if maxChars > 0 {
		if n := utf8.RuneCountInString(prompt); n > maxChars {
			return fmt.Errorf("%w: %d characters, limit is %d", ErrPromptTooLong, n, maxChars)
		}
	}
	return nil
}

// ValidateCommand validates a chat command name
func (v *PromptValidator) ValidateCommand(name string) error {
	if name == "" {
		return errors.New("command cannot be empty")
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("command %q must be lowercase letters, digits or underscores", name)
		}
	}
	if len(name) > 32 {
		return fmt.Errorf("command %q is longer than 32 characters", name)
	}
	return nil
}
