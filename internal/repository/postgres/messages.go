package postgres

import (
	"answer-bot/internal/repository/db"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// AddMessage upserts a chat message by (chat_id, message_id)
func (p *PostgresDB) AddMessage(ctx context.Context, m db.ChatMessage) error {
	query := `
	INSERT INTO chat_messages (chat_id, message_id, user_id, user_name, content, sent_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (chat_id, message_id) DO UPDATE
	SET user_id = EXCLUDED.user_id, user_name = EXCLUDED.user_name, content = EXCLUDED.content, sent_at = EXCLUDED.sent_at
	`
	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	if _, err := p.conn.ExecContext(ctx, query, m.ChatID, m.MessageID, m.UserID, m.UserName, m.Content, sentAt); err != nil {
		return fmt.Errorf("error inserting chat message: %w", err)
	}
	return nil
}

// MessagesSince returns messages sent at or after since, oldest first
func (p *PostgresDB) MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]db.ChatMessage, error) {
	query := `
	SELECT chat_id, message_id, user_id, user_name, content, sent_at
	FROM chat_messages
	WHERE chat_id = $1 AND sent_at >= $2
	ORDER BY sent_at ASC, message_id ASC
	`
	rows, err := p.conn.QueryContext(ctx, query, chatID, since)
	if err != nil {
		return nil, fmt.Errorf("error querying chat messages: %w", err)
	}
	return scanMessages(rows)
}

// SearchMessages matches keyword case-insensitively, newest first
func (p *PostgresDB) SearchMessages(ctx context.Context, chatID int64, keyword string, limit int) ([]db.ChatMessage, error) {
	query := `
	SELECT chat_id, message_id, user_id, user_name, content, sent_at
	FROM chat_messages
	WHERE chat_id = $1 AND content ILIKE '%' || $2 || '%'
	ORDER BY sent_at DESC, message_id DESC
	LIMIT $3
	`
	rows, err := p.conn.QueryContext(ctx, query, chatID, likeEscaper.Replace(keyword), limit)
	if err != nil {
		return nil, fmt.Errorf("error searching chat messages: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]db.ChatMessage, error) {
	defer rows.Close()

	var messages []db.ChatMessage
	for rows.Next() {
		var m db.ChatMessage
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.UserID, &m.UserName, &m.Content, &m.SentAt); err != nil {
			return nil, fmt.Errorf("error scanning chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}
	return messages, nil
}

// DailyCounts counts messages per calendar day in loc
func (p *PostgresDB) DailyCounts(ctx context.Context, chatID int64, loc *time.Location) ([]db.DayCount, error) {
	query := `
	SELECT to_char(sent_at AT TIME ZONE $2, 'YYYY-MM-DD') AS day, COUNT(*)
	FROM chat_messages
	WHERE chat_id = $1
	GROUP BY day
	ORDER BY day ASC
	`
	rows, err := p.conn.QueryContext(ctx, query, chatID, zoneName(loc))
	if err != nil {
		return nil, fmt.Errorf("error querying message stats: %w", err)
	}
	defer rows.Close()

	var days []db.DayCount
	for rows.Next() {
		var d db.DayCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, fmt.Errorf("error scanning message stats: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message stats: %w", err)
	}
	return days, nil
}

// TopUsers ranks users by message count
func (p *PostgresDB) TopUsers(ctx context.Context, chatID int64, limit int) ([]db.UserCount, error) {
	query := `
	SELECT user_id, MAX(user_name), COUNT(*) AS n
	FROM chat_messages
	WHERE chat_id = $1
	GROUP BY user_id
	ORDER BY n DESC, user_id ASC
	LIMIT $2
	`
	rows, err := p.conn.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying user stats: %w", err)
	}
	defer rows.Close()

	var users []db.UserCount
	for rows.Next() {
		var u db.UserCount
		if err := rows.Scan(&u.UserID, &u.UserName, &u.Count); err != nil {
			return nil, fmt.Errorf("error scanning user stats: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user stats: %w", err)
	}
	return users, nil
}

// PruneMessages removes messages sent before cutoff
func (p *PostgresDB) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := p.conn.ExecContext(ctx, `DELETE FROM chat_messages WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error pruning chat messages: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return rows, nil
}

// zoneName maps loc to a name PostgreSQL understands
func zoneName(loc *time.Location) string {
	if loc == nil || loc.String() == "Local" {
		return "UTC"
	}
	return loc.String()
}
