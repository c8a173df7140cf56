package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/dbutil"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetOrCreate loads the conversation or creates it owned by userID. A
// conversation owned by someone else is invisible to the caller.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, id, userID string) (*model.Conversation, error) {
	conv, err := r.Get(ctx, id)
	if err == nil {
		if conv.UserID != userID {
			return nil, appErr.ErrForbidden
		}
		return conv, nil
	}
	if !errors.Is(err, appErr.ErrNotFound) {
		return nil, err
	}
	now := time.Now().Unix()
	conv = &model.Conversation{
		ID:           id,
		UserID:       userID,
		Status:       model.ConversationActive,
		LastActivity: now,
		Ctime:        now,
	}
	data := map[string]interface{}{
		"id":            conv.ID,
		"user_id":       conv.UserID,
		"status":        conv.Status,
		"message_count": conv.MessageCount,
		"failure_count": conv.FailureCount,
		"last_activity": conv.LastActivity,
		"ctime":         conv.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("conversations", []map[string]interface{}{data})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			// lost the create race, reread
			return r.GetOrCreate(ctx, id, userID)
		}
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepo) Get(ctx context.Context, id string) (*model.Conversation, error) {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildSelect("conversations", where,
		[]string{"id", "user_id", "status", "message_count", "failure_count", "last_activity", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var conv model.Conversation
	err = row.Scan(&conv.ID, &conv.UserID, &conv.Status, &conv.MessageCount,
		&conv.FailureCount, &conv.LastActivity, &conv.Ctime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepo) Update(ctx context.Context, id string, patch *model.ConversationPatch) error {
	update := map[string]interface{}{}
	if patch.Status != nil {
		update["status"] = *patch.Status
	}
	if patch.MessageCount != nil {
		update["message_count"] = *patch.MessageCount
	}
	if patch.FailureCount != nil {
		update["failure_count"] = *patch.FailureCount
	}
	if patch.LastActivity != nil {
		update["last_activity"] = *patch.LastActivity
	}
	if len(update) == 0 {
		return nil
	}
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildUpdate("conversations", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// BumpFailureCount atomically increments failure_count and returns the new
// value, so concurrent turns cannot both observe the pre-increment count.
func (r *ConversationRepo) BumpFailureCount(ctx context.Context, id string) (int, error) {
	row := r.db.QueryRowContext(ctx,
		"UPDATE conversations SET failure_count = failure_count + 1 WHERE id = $1 RETURNING failure_count", id)
	var count int
	err := row.Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, appErr.ErrNotFound
	}
	return count, err
}

func (r *ConversationRepo) ResetFailureCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET failure_count = 0 WHERE id = $1", id)
	return err
}
