package conversation

import (
	"answer-bot/internal/config"
	"answer-bot/internal/repository/db"
	"answer-bot/internal/repository/memory"
	"answer-bot/internal/service/llm"
	"answer-bot/internal/testutil"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func msgs(roles string) []llm.Message {
	var out []llm.Message
	for i, r := range roles {
		role := llm.RoleUser
		if r == 'a' {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: fmt.Sprintf("%d", i)})
	}
	return out
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name      string
		in        []llm.Message
		max       int
		wantLen   int
		wantFirst string
	}{
		{"under limit", msgs("uaua"), 10, 4, "0"},
		{"drops oldest exchange", msgs("uauaua"), 4, 4, "2"},
		{"odd overflow drops whole exchanges", msgs("uauau"), 4, 3, "2"},
		{"leading assistant removed", msgs("aua"), 10, 2, "1"},
		{"no limit", msgs("uauauauaua"), 0, 10, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trim(tt.in, tt.max)
			if len(got) != tt.wantLen {
				t.Fatalf("Trim() returned %d messages, want %d", len(got), tt.wantLen)
			}
			if got[0].Content != tt.wantFirst {
				t.Errorf("Trim() first message = %s, want %s", got[0].Content, tt.wantFirst)
			}
		})
	}
}

func TestHistory_AppliesPolicy(t *testing.T) {
	store := memory.NewHistoryStore()
	svc := NewConversationService(store)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	key := db.Key{Provider: "Gemini", UserID: 7}

	// an expired exchange
	svc.now = func() time.Time { return now.Add(-time.Hour) }
	if err := svc.Record(ctx, key, "stale question", "stale answer"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	svc.now = func() time.Time { return now }
	for i := 0; i < 6; i++ {
		if err := svc.Record(ctx, key, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	history, err := svc.History(ctx, key, PolicyFor(config.Provider{HistoryMessages: 10, HistoryTTL: 10 * time.Minute}))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 10 {
		t.Fatalf("History() returned %d messages, want 10", len(history))
	}
	if history[0].Content != "q1" || history[0].Role != llm.RoleUser {
		t.Errorf("History()[0] = %+v, want user q1", history[0])
	}
	for _, m := range history {
		if strings.HasPrefix(m.Content, "stale") {
			t.Errorf("History() returned expired message %q", m.Content)
		}
	}
}

func TestClear(t *testing.T) {
	store := memory.NewHistoryStore()
	svc := NewConversationService(store)
	ctx := context.Background()
	key := db.Key{Provider: "Llama", UserID: 1}

	if err := svc.Record(ctx, key, "q", "a"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Clear(ctx, key); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	history, err := svc.History(ctx, key, Policy{MaxMessages: 10})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("History() after Clear returned %d messages, want 0", len(history))
	}
}

func TestHistory_StoreError(t *testing.T) {
	store := &testutil.MockHistoryStore{
		GetTurnsFunc: func(ctx context.Context, key db.Key, since time.Time) ([]db.Turn, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewConversationService(store)

	_, err := svc.History(context.Background(), db.Key{Provider: "x"}, Policy{})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Expected wrapped store error, got: %v", err)
	}
}

func TestEvictExpired(t *testing.T) {
	var gotCutoff time.Time
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &testutil.MockHistoryStore{
		EvictBeforeFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 3, nil
		},
	}
	svc := NewConversationService(store)
	svc.now = func() time.Time { return now }

	removed, err := svc.EvictExpired(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("EvictExpired() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("EvictExpired() removed = %d, want 3", removed)
	}
	if !gotCutoff.Equal(now.Add(-time.Hour)) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, now.Add(-time.Hour))
	}
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	store := &testutil.MockHistoryStore{
		EvictBeforeFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
			calls <- struct{}{}
			return 0, nil
		},
	}
	svc := NewConversationService(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("janitor never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
