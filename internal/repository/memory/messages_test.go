package memory

import (
	"answer-bot/internal/repository/db"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLog(t *testing.T) {
	ctx := context.Background()
	s := NewMessageLog()
	base := time.Date(2026, 1, 1, 22, 30, 0, 0, time.UTC)
	const chat = int64(-1001234)

	add := func(id int, user int64, name, text string, at time.Time) {
		require.NoError(t, s.AddMessage(ctx, db.ChatMessage{ChatID: chat, MessageID: id, UserID: user, UserName: name, Content: text, SentAt: at}))
	}
	add(1, 10, "alice", "Go generics are here", base)
	add(2, 20, "bob", "what about GO modules", base.Add(time.Hour))
	add(3, 10, "alice", "lunch?", base.Add(2*time.Hour))
	add(2, 20, "bob", "what about go modules?", base.Add(time.Hour))
	require.NoError(t, s.AddMessage(ctx, db.ChatMessage{ChatID: 7, MessageID: 1, Content: "go elsewhere", SentAt: base}))

	since, err := s.MessagesSince(ctx, chat, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "what about go modules?", since[0].Content, "a repeated message id replaces the earlier copy")
	assert.Equal(t, 3, since[1].MessageID)

	days, err := s.DailyCounts(ctx, chat, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []db.DayCount{{Day: "2026-01-01", Count: 2}, {Day: "2026-01-02", Count: 1}}, days)

	shanghai := time.FixedZone("UTC+8", 8*3600)
	days, err = s.DailyCounts(ctx, chat, shanghai)
	require.NoError(t, err)
	assert.Equal(t, []db.DayCount{{Day: "2026-01-02", Count: 3}}, days)

	users, err := s.TopUsers(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, []db.UserCount{{UserID: 10, UserName: "alice", Count: 2}}, users)

	found, err := s.SearchMessages(ctx, chat, "go", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 2, found[0].MessageID, "newest first")
	assert.Equal(t, 1, found[1].MessageID)

	found, err = s.SearchMessages(ctx, chat, "go", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	removed, err := s.PruneMessages(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	since, err = s.MessagesSince(ctx, chat, time.Time{})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "lunch?", since[0].Content)
}
