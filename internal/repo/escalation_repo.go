package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/google/uuid"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/dbutil"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
)

type EscalationRepo struct {
	db *sql.DB
}

func NewEscalationRepo(db *sql.DB) *EscalationRepo {
	return &EscalationRepo{db: db}
}

// CreateOpen inserts an open escalation for the conversation. The partial
// unique index on open escalations makes this idempotent under concurrency:
// the loser of the race gets the already-open record back, created == false.
func (r *EscalationRepo) CreateOpen(ctx context.Context, rec *model.EscalationRecord) (created bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Ctime == 0 {
		rec.Ctime = time.Now().Unix()
	}
	rec.Status = model.EscalationOpen
	data := map[string]interface{}{
		"id":              rec.ID,
		"conversation_id": rec.ConversationID,
		"user_role":       rec.UserRole,
		"user_email":      rec.UserEmail,
		"reason":          rec.Reason,
		"sentiment_score": rec.SentimentScore,
		"sentiment_label": rec.SentimentLabel,
		"ticket_ref":      rec.TicketRef,
		"status":          rec.Status,
		"delivered":       rec.Delivered,
		"attempts":        rec.Attempts,
		"ctime":           rec.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("escalations", []map[string]interface{}{data})
	if err != nil {
		return false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			existing, gerr := r.GetOpen(ctx, rec.ConversationID)
			if gerr != nil {
				return false, gerr
			}
			*rec = *existing
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *EscalationRepo) GetOpen(ctx context.Context, conversationID string) (*model.EscalationRecord, error) {
	where := map[string]interface{}{
		"conversation_id": conversationID,
		"status":          model.EscalationOpen,
	}
	sqlStr, args, err := builder.BuildSelect("escalations", where, escalationFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	rec, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	return rec, err
}

// MarkDelivered records a successful ticket handoff.
func (r *EscalationRepo) MarkDelivered(ctx context.Context, id, ticketRef string, attempts int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE escalations SET delivered = TRUE, ticket_ref = $2, attempts = $3 WHERE id = $1",
		id, ticketRef, attempts)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *EscalationRepo) BumpAttempts(ctx context.Context, id string, attempts int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE escalations SET attempts = $2 WHERE id = $1", id, attempts)
	return err
}

// ListUndelivered feeds the redelivery job.
func (r *EscalationRepo) ListUndelivered(ctx context.Context, limit int) ([]model.EscalationRecord, error) {
	where := map[string]interface{}{
		"status":    model.EscalationOpen,
		"delivered": false,
		"_orderby":  "ctime asc",
		"_limit":    []uint{0, uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect("escalations", where, escalationFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs := make([]model.EscalationRecord, 0)
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (r *EscalationRepo) Close(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE escalations SET status = $2 WHERE conversation_id = $1 AND status = $3",
		conversationID, model.EscalationClosed, model.EscalationOpen)
	return err
}

var escalationFields = []string{"id", "conversation_id", "user_role", "user_email", "reason", "sentiment_score", "sentiment_label", "ticket_ref", "status", "delivered", "attempts", "ctime"}

func scanEscalation(row rowScanner) (*model.EscalationRecord, error) {
	var rec model.EscalationRecord
	if err := row.Scan(&rec.ID, &rec.ConversationID, &rec.UserRole, &rec.UserEmail, &rec.Reason,
		&rec.SentimentScore, &rec.SentimentLabel, &rec.TicketRef, &rec.Status, &rec.Delivered,
		&rec.Attempts, &rec.Ctime); err != nil {
		return nil, err
	}
	return &rec, nil
}
