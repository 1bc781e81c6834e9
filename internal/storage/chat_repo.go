package storage

import (
	"context"
	"fmt"

	"arxivchat/internal/models"

	"github.com/google/uuid"
)

type ChatRepo struct {
	db *DB
}

func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// AppendTurns stores a question/answer exchange atomically: either every turn
// is written or none is. Exchanges for one (user, paper) are written one at a
// time, so seq order keeps each question next to its answer.
func (r *ChatRepo) AppendTurns(ctx context.Context, userID, paperID string, turns []models.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx append turns: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	// Writers from other replicas queue here so exchanges never interleave.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('chat:' || $1 || ':' || $2))`, userID, paperID); err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	for _, t := range turns {
		id := t.TurnID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO chat_turns (turn_id, user_id, paper_id, role, content)
VALUES ($1::uuid, $2, $3, $4, $5)`, id, userID, paperID, t.Role, t.Content); err != nil {
			return fmt.Errorf("insert %s turn: %w", t.Role, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit turns tx: %w", err)
	}
	return nil
}

// ListTurns returns the most recent limit turns, oldest first. limit <= 0
// returns the full history.
func (r *ChatRepo) ListTurns(ctx context.Context, userID, paperID string, limit int) ([]models.ConversationTurn, error) {
	q := `
SELECT turn_id::text, user_id, paper_id, seq, role, content, created_at FROM (
  SELECT * FROM chat_turns WHERE user_id=$1 AND paper_id=$2 ORDER BY seq DESC LIMIT $3
) recent ORDER BY seq ASC`
	args := []any{userID, paperID, limit}
	if limit <= 0 {
		q = `
SELECT turn_id::text, user_id, paper_id, seq, role, content, created_at
FROM chat_turns WHERE user_id=$1 AND paper_id=$2 ORDER BY seq ASC`
		args = args[:2]
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	out := make([]models.ConversationTurn, 0)
	for rows.Next() {
		var t models.ConversationTurn
		if err := rows.Scan(&t.TurnID, &t.UserID, &t.PaperID, &t.Seq, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func (r *ChatRepo) DeleteTurns(ctx context.Context, userID, paperID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM chat_turns WHERE user_id=$1 AND paper_id=$2`, userID, paperID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}
