package memory

import (
	"answer-bot/internal/repository/db"
	"context"
	"sync"
	"time"
)

// Ensure HistoryStore implements db.HistoryStore interface
var _ db.HistoryStore = (*HistoryStore)(nil)

// HistoryStore keeps conversation turns in process memory
type HistoryStore struct {
	mu    sync.Mutex
	turns map[db.Key][]db.Turn
}

// NewHistoryStore creates an empty in-memory store
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{turns: make(map[db.Key][]db.Turn)}
}

func (s *HistoryStore) GetTurns(ctx context.Context, key db.Key, since time.Time) ([]db.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Turn
	for _, t := range s.turns[key] {
		if !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *HistoryStore) AppendTurns(ctx context.Context, key db.Key, turns ...db.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range turns {
		t.Provider = key.Provider
		t.UserID = key.UserID
		s.turns[key] = append(s.turns[key], t)
	}
	return nil
}

func (s *HistoryStore) DeleteTurns(ctx context.Context, key db.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.turns, key)
	return nil
}

func (s *HistoryStore) EvictBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, turns := range s.turns {
		kept := turns[:0]
		for _, t := range turns {
			if t.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(s.turns, key)
			continue
		}
		s.turns[key] = kept
	}
	return removed, nil
}

func (s *HistoryStore) Close() error {
	return nil
}
