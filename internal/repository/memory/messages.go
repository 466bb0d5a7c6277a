package memory

import (
	"answer-bot/internal/repository/db"
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Ensure MessageLog implements db.MessageLog interface
var _ db.MessageLog = (*MessageLog)(nil)

type messageKey struct {
	chatID    int64
	messageID int
}

// MessageLog keeps chat messages in process memory
type MessageLog struct {
	mu       sync.Mutex
	messages map[messageKey]db.ChatMessage
}

// NewMessageLog creates an empty in-memory message log
func NewMessageLog() *MessageLog {
	return &MessageLog{messages: make(map[messageKey]db.ChatMessage)}
}

func (s *MessageLog) AddMessage(ctx context.Context, m db.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[messageKey{m.ChatID, m.MessageID}] = m
	return nil
}

// chat returns the messages of chatID matching keep, oldest first
func (s *MessageLog) chat(chatID int64, keep func(db.ChatMessage) bool) []db.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.ChatMessage
	for k, m := range s.messages {
		if k.chatID == chatID && keep(m) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b db.ChatMessage) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		return cmp.Compare(a.MessageID, b.MessageID)
	})
	return out
}

func (s *MessageLog) MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]db.ChatMessage, error) {
	return s.chat(chatID, func(m db.ChatMessage) bool { return !m.SentAt.Before(since) }), nil
}

func (s *MessageLog) DailyCounts(ctx context.Context, chatID int64, loc *time.Location) ([]db.DayCount, error) {
	var out []db.DayCount
	for _, m := range s.chat(chatID, func(db.ChatMessage) bool { return true }) {
		day := m.SentAt.In(loc).Format(time.DateOnly)
		if n := len(out); n > 0 && out[n-1].Day == day {
			out[n-1].Count++
			continue
		}
		out = append(out, db.DayCount{Day: day, Count: 1})
	}
	return out, nil
}

func (s *MessageLog) TopUsers(ctx context.Context, chatID int64, limit int) ([]db.UserCount, error) {
	counts := make(map[int64]*db.UserCount)
	for _, m := range s.chat(chatID, func(db.ChatMessage) bool { return true }) {
		c, ok := counts[m.UserID]
		if !ok {
			c = &db.UserCount{UserID: m.UserID}
			counts[m.UserID] = c
		}
		c.UserName = m.UserName
		c.Count++
	}

	out := make([]db.UserCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b db.UserCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MessageLog) SearchMessages(ctx context.Context, chatID int64, keyword string, limit int) ([]db.ChatMessage, error) {
	keyword = strings.ToLower(keyword)
	out := s.chat(chatID, func(m db.ChatMessage) bool {
		return strings.Contains(strings.ToLower(m.Content), keyword)
	})
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MessageLog) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, m := range s.messages {
		if m.SentAt.Before(cutoff) {
			delete(s.messages, k)
			removed++
		}
	}
	return removed, nil
}
