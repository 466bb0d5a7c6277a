package db

import (
	"context"
	"time"
)

// Key identifies one conversation history
type Key struct {
	Provider string
	UserID   int64
}

// Turn is one stored conversation message
type Turn struct {
	ID        string
	Provider  string
	UserID    int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// HistoryStore persists per-(provider, user) conversation turns
type HistoryStore interface {
	// GetTurns returns the turns of key created at or after since, oldest first
	GetTurns(ctx context.Context, key Key, since time.Time) ([]Turn, error)
	AppendTurns(ctx context.Context, key Key, turns ...Turn) error
	DeleteTurns(ctx context.Context, key Key) error
	// EvictBefore removes every turn created before cutoff and reports how many were removed
	EvictBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// ChatMessage is one logged group chat message
type ChatMessage struct {
	ChatID    int64
	MessageID int
	UserID    int64
	UserName  string
	Content   string
	SentAt    time.Time
}

// DayCount is the number of logged messages on one calendar day
type DayCount struct {
	Day   string
	Count int
}

// UserCount is the number of logged messages sent by one user
type UserCount struct {
	UserID   int64
	UserName string
	Count    int
}

// MessageLog persists chat messages for recaps, stats and search
type MessageLog interface {
	// AddMessage stores m, replacing an earlier copy with the same chat and message id
	AddMessage(ctx context.Context, m ChatMessage) error
	// MessagesSince returns the messages of a chat sent at or after since, oldest first
	MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]ChatMessage, error)
	// DailyCounts groups a chat's messages by day in loc, oldest day first
	DailyCounts(ctx context.Context, chatID int64, loc *time.Location) ([]DayCount, error)
	// TopUsers returns the most active users of a chat, most messages first
	TopUsers(ctx context.Context, chatID int64, limit int) ([]UserCount, error)
	// SearchMessages returns up to limit messages containing keyword, newest first
	SearchMessages(ctx context.Context, chatID int64, keyword string, limit int) ([]ChatMessage, error)
	// PruneMessages removes messages sent before cutoff and reports how many were removed
	PruneMessages(ctx context.Context, cutoff time.Time) (int64, error)
}
