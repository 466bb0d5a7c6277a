package postgres

import (
	"answer-bot/internal/logger"
	"answer-bot/internal/repository/db"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GetTurns returns the turns of key created at or after since, oldest first
func (p *PostgresDB) GetTurns(ctx context.Context, key db.Key, since time.Time) ([]db.Turn, error) {
	query := `
	SELECT id, provider, user_id, role, content, created_at
	FROM history_turns
	WHERE provider = $1 AND user_id = $2 AND created_at >= $3
	ORDER BY created_at ASC, id ASC
	`

	rows, err := p.conn.QueryContext(ctx, query, key.Provider, key.UserID, since)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	var turns []db.Turn
	for rows.Next() {
		var t db.Turn
		if err := rows.Scan(&t.ID, &t.Provider, &t.UserID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return turns, nil
}

// AppendTurns stores turns in one transaction
func (p *PostgresDB) AppendTurns(ctx context.Context, key db.Key, turns ...db.Turn) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO history_turns (id, provider, user_id, role, content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, t := range turns {
		id := t.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, query, id, key.Provider, key.UserID, t.Role, t.Content, createdAt); err != nil {
			return fmt.Errorf("error inserting turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing turns: %w", err)
	}
	return nil
}

// DeleteTurns removes the whole history of key
func (p *PostgresDB) DeleteTurns(ctx context.Context, key db.Key) error {
	result, err := p.conn.ExecContext(ctx, `DELETE FROM history_turns WHERE provider = $1 AND user_id = $2`, key.Provider, key.UserID)
	if err != nil {
		return fmt.Errorf("error deleting history: %w", err)
	}
	rows, _ := result.RowsAffected()
	logger.Log.WithFields(logrus.Fields{"provider": key.Provider, "user_id": key.UserID, "rows": rows}).Info("Cleared history")
	return nil
}

// EvictBefore removes turns created before cutoff
func (p *PostgresDB) EvictBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := p.conn.ExecContext(ctx, `DELETE FROM history_turns WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error evicting history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return rows, nil
}
