package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/calderhq/navigator/internal/model"
)

type TurnRepo struct {
	db *sql.DB
}

func NewTurnRepo(db *sql.DB) *TurnRepo {
	return &TurnRepo{db: db}
}

// Append writes the turn at the next free sequence number and bumps the
// conversation counters in the same transaction. The scalar subquery plus the
// (conversation_id, seq) primary key keep concurrent appends from colliding
// silently: one of them retries on the unique violation upstream.
func (r *TurnRepo) Append(ctx context.Context, turn *model.Turn) error {
	citations, err := json.Marshal(orEmptyCitations(turn.Citations))
	if err != nil {
		return err
	}
	toolCalls, err := json.Marshal(orEmptyToolCalls(turn.ToolCalls))
	if err != nil {
		return err
	}
	if turn.Ctime == 0 {
		turn.Ctime = time.Now().Unix()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO turns (conversation_id, seq, role, content, citations, tool_calls, ctime)
		SELECT $1, COALESCE(MAX(seq) + 1, 0), $2, $3, $4, $5, $6 FROM turns WHERE conversation_id = $1
		RETURNING seq`,
		turn.ConversationID, turn.Role, turn.Content, citations, toolCalls, turn.Ctime)
	if err := row.Scan(&turn.Seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET message_count = message_count + 1, last_activity = $2 WHERE id = $1`,
		turn.ConversationID, turn.Ctime); err != nil {
		return err
	}
	return tx.Commit()
}

// Recent returns the newest turns in chronological order.
func (r *TurnRepo) Recent(ctx context.Context, conversationID string, limit int) ([]model.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, seq, role, content, citations, tool_calls, ctime
		FROM (SELECT * FROM turns WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2) t
		ORDER BY seq ASC`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

func (r *TurnRepo) List(ctx context.Context, conversationID string, limit, offset uint) ([]model.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, seq, role, content, citations, tool_calls, ctime
		FROM turns WHERE conversation_id = $1 ORDER BY seq ASC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]model.Turn, error) {
	turns := make([]model.Turn, 0)
	for rows.Next() {
		var t model.Turn
		var citations, toolCalls []byte
		if err := rows.Scan(&t.ConversationID, &t.Seq, &t.Role, &t.Content, &citations, &toolCalls, &t.Ctime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(citations, &t.Citations); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(toolCalls, &t.ToolCalls); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func orEmptyCitations(in []model.Citation) []model.Citation {
	if in == nil {
		return []model.Citation{}
	}
	return in
}

func orEmptyToolCalls(in []model.ToolCall) []model.ToolCall {
	if in == nil {
		return []model.ToolCall{}
	}
	return in
}
