package capture

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTTL        = 120 * time.Second
	defaultMaxEntries = 1000
)

// Message is the most recent non-command message seen in a chat
type Message struct {
	ChatID      int64
	UserID      int64
	MessageID   int
	Text        string
	ImageFileID string
	CapturedAt  time.Time
}

// Store remembers the last message per chat for a bounded time
type Store struct {
	ttl        time.Duration
	appendMode bool
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[int64]Message
}

// NewStore creates a capture store from configuration
func NewStore(cfg config.CaptureConfig) *Store {
	return NewStoreWithClock(cfg, time.Now)
}

// NewStoreWithClock creates a capture store reading time from now
func NewStoreWithClock(cfg config.CaptureConfig, now func() time.Time) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	return &Store{
		ttl:        cfg.TTL,
		appendMode: cfg.Append,
		maxEntries: cfg.MaxEntries,
		now:        now,
		entries:    make(map[int64]Message),
	}
}

// Capture records msg as the latest message of its chat. In append mode a
// message from the same user within the TTL extends the stored text.
func (s *Store) Capture(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	msg.CapturedAt = now

	if prev, ok := s.entries[msg.ChatID]; ok && s.appendMode && s.fresh(prev, now) && prev.UserID == msg.UserID {
		if prev.Text != "" && msg.Text != "" {
			msg.Text = prev.Text + "\n" + msg.Text
		} else if msg.Text == "" {
			msg.Text = prev.Text
		}
		if msg.ImageFileID == "" {
			msg.ImageFileID = prev.ImageFileID
		}
	}

	if _, ok := s.entries[msg.ChatID]; !ok && len(s.entries) >= s.maxEntries {
		s.evict(now)
	}
	s.entries[msg.ChatID] = msg
}

// Peek returns the captured message of a chat if it has not expired
func (s *Store) Peek(chatID int64) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.entries[chatID]
	if !ok {
		return Message{}, false
	}
	if !s.fresh(msg, s.now()) {
		delete(s.entries, chatID)
		return Message{}, false
	}
	return msg, true
}

// Len returns the number of stored entries, expired ones included
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) fresh(msg Message, now time.Time) bool {
	return now.Sub(msg.CapturedAt) <= s.ttl
}

// evict makes room for one entry. Caller holds mu.
func (s *Store) evict(now time.Time) {
	removed := 0
	for id, msg := range s.entries {
		if !s.fresh(msg, now) {
			delete(s.entries, id)
			removed++
		}
	}
	for len(s.entries) >= s.maxEntries {
		var oldestID int64
		var oldest time.Time
		first := true
		for id, msg := range s.entries {
			if first || msg.CapturedAt.Before(oldest) {
				oldestID, oldest, first = id, msg.CapturedAt, false
			}
		}
		delete(s.entries, oldestID)
		removed++
	}
	logger.Log.WithFields(logrus.Fields{"removed": removed, "remaining": len(s.entries)}).Debug("Evicted captured messages")
}
