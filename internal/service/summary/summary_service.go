package summary

import (
	"answer-bot/internal/logger"
	"answer-bot/internal/service/llm"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrEmptyDocument is returned when there is nothing to summarize
var ErrEmptyDocument = errors.New("document is empty")

// Generator produces text for a request without chat output
type Generator interface {
	Name() string
	Generate(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// SummaryService handles the summarization pass over a composed answers document
type SummaryService struct {
	generator Generator
	prompt    string
	maxInput  int
}

// NewSummaryService creates a new SummaryService. maxInput bounds the
// document bytes sent to the generator; zero means no bound.
func NewSummaryService(generator Generator, summarizationPrompt string, maxInput int) *SummaryService {
	if summarizationPrompt == "" {
		summarizationPrompt = `You are given a question and the answers several assistants gave to it.
Compare the answers, point out mistakes, and give the best answer briefly.`
	}
	return &SummaryService{
		generator: generator,
		prompt:    summarizationPrompt,
		maxInput:  maxInput,
	}
}

// Summarize condenses a composed document into a short summary
func (s *SummaryService) Summarize(ctx context.Context, document string) (string, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return "", ErrEmptyDocument
	}
	if s.maxInput > 0 && len(document) > s.maxInput {
		document = strings.ToValidUTF8(document[:s.maxInput], "")
	}

	req := llm.CompletionRequest{
		System:   s.prompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: document}},
	}

	logger.Log.WithFields(logrus.Fields{
		"provider":       s.generator.Name(),
		"document_bytes": len(document),
	}).Info("Calling LLM to generate summary")

	summary, err := s.generator.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM error during summarization: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", errors.New("LLM returned an empty summary")
	}

	logger.Log.WithField("summary_chars", len(summary)).Info("Generated summary")
	return summary, nil
}
