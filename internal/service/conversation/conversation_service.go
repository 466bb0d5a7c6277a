package conversation

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"answer-bot/internal/repository/db"
	"answer-bot/internal/service/llm"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy bounds how much history is replayed to a provider
type Policy struct {
	// MaxMessages is the number of messages kept; whole exchanges are evicted from the oldest end.
	MaxMessages int
	// TTL hides turns older than this.
	TTL time.Duration
}

// PolicyFor returns the history policy configured for a provider
func PolicyFor(p config.Provider) Policy {
	return Policy{MaxMessages: p.HistoryMessages, TTL: p.HistoryTTL}
}

// ConversationService handles per-(provider, user) conversation history
type ConversationService struct {
	store db.HistoryStore
	now   func() time.Time
}

// NewConversationService creates a new ConversationService
func NewConversationService(store db.HistoryStore) *ConversationService {
	return &ConversationService{store: store, now: time.Now}
}

// History returns the replayable history of key under policy
func (s *ConversationService) History(ctx context.Context, key db.Key, policy Policy) ([]llm.Message, error) {
	var since time.Time
	if policy.TTL > 0 {
		since = s.now().Add(-policy.TTL)
	}

	turns, err := s.store.GetTurns(ctx, key, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	return Trim(messages, policy.MaxMessages), nil
}

// Trim drops exchanges from the oldest end until at most max messages remain.
// The result never starts with an assistant turn.
func Trim(messages []llm.Message, max int) []llm.Message {
	if max > 0 {
		for len(messages) > max {
			if len(messages) >= 2 {
				messages = messages[2:]
			} else {
				messages = messages[1:]
			}
		}
	}
	for len(messages) > 0 && messages[0].Role != llm.RoleUser {
		messages = messages[1:]
	}
	return messages
}

// Record stores a completed exchange
func (s *ConversationService) Record(ctx context.Context, key db.Key, prompt, answer string) error {
	now := s.now()
	err := s.store.AppendTurns(ctx, key,
		db.Turn{Role: llm.RoleUser, Content: prompt, CreatedAt: now},
		db.Turn{Role: llm.RoleAssistant, Content: answer, CreatedAt: now.Add(time.Microsecond)},
	)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// Clear removes the history of key
func (s *ConversationService) Clear(ctx context.Context, key db.Key) error {
	if err := s.store.DeleteTurns(ctx, key); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// EvictExpired removes turns older than maxAge
func (s *ConversationService) EvictExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	removed, err := s.store.EvictBefore(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to evict history: %w", err)
	}
	return removed, nil
}

// RunJanitor evicts expired turns every interval until ctx is done
func (s *ConversationService) RunJanitor(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.EvictExpired(ctx, maxAge)
			if err != nil {
				logger.Log.WithError(err).Warn("History eviction failed")
				continue
			}
			if removed > 0 {
				logger.Log.WithFields(logrus.Fields{"removed": removed}).Debug("Evicted expired history")
			}
		}
	}
}
