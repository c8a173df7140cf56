package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/ticketing"
)

// EscalationPolicy decides whether a finished turn hands the conversation to
// a human. When several triggers fire at once the recorded reason follows a
// fixed precedence: explicit request, then negative sentiment, then repeated
// failures.
type EscalationPolicy struct {
	SentimentThreshold float64
	FailureThreshold   int
}

func (p EscalationPolicy) Evaluate(explicit bool, sentiment *model.Sentiment, failureCount int) (string, bool) {
	if explicit {
		return model.ReasonExplicitRequest, true
	}
	if sentiment != nil && sentiment.Score <= p.SentimentThreshold {
		return model.ReasonNegativeSentiment, true
	}
	if p.FailureThreshold > 0 && failureCount >= p.FailureThreshold {
		return model.ReasonRepeatedFailure, true
	}
	return "", false
}

type EscalationStore interface {
	CreateOpen(ctx context.Context, rec *model.EscalationRecord) (bool, error)
	GetOpen(ctx context.Context, conversationID string) (*model.EscalationRecord, error)
	MarkDelivered(ctx context.Context, id, ticketRef string, attempts int) error
	BumpAttempts(ctx context.Context, id string, attempts int) error
	ListUndelivered(ctx context.Context, limit int) ([]model.EscalationRecord, error)
	Close(ctx context.Context, conversationID string) error
}

// TurnTail reads the most recent turns of a conversation for the handoff
// transcript.
type TurnTail interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]model.Turn, error)
}

type ConversationHeaderStore interface {
	Update(ctx context.Context, id string, patch *model.ConversationPatch) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
}

type TicketCreator interface {
	Create(ctx context.Context, t *ticketing.Ticket) (string, error)
}

// EscalationOutcome is what the chat response reports about a handoff.
type EscalationOutcome struct {
	Record    *model.EscalationRecord
	Created   bool
	Delivered bool
}

type EscalationService struct {
	policy        EscalationPolicy
	escalations   EscalationStore
	conversations ConversationHeaderStore
	tickets       TicketCreator
	turns         TurnTail
}

func NewEscalationService(policy EscalationPolicy, escalations EscalationStore, conversations ConversationHeaderStore, tickets TicketCreator, turns TurnTail) *EscalationService {
	return &EscalationService{
		policy:        policy,
		escalations:   escalations,
		conversations: conversations,
		tickets:       tickets,
		turns:         turns,
	}
}

func (s *EscalationService) Policy() EscalationPolicy {
	return s.policy
}

// Handoff is the caller context the support agent receives with the ticket.
type Handoff struct {
	Summary string
	Role    string
	Email   string
}

const handoffTranscriptTurns = 6

// Trigger opens the escalation for conv and delivers the ticket. The open
// record is created exactly once per escalated conversation: a concurrent
// or repeated trigger gets the existing record back and files no second
// ticket. Ticket delivery failure degrades, not fails: the record survives
// undelivered and the redelivery job picks it up.
func (s *EscalationService) Trigger(ctx context.Context, conv *model.Conversation, reason string, sentiment *model.Sentiment, handoff Handoff) (*EscalationOutcome, error) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("conversation_id", conv.ID), zap.String("reason", reason))

	rec := &model.EscalationRecord{
		ConversationID: conv.ID,
		Reason:         reason,
		UserRole:       handoff.Role,
		UserEmail:      handoff.Email,
	}
	if sentiment != nil {
		rec.SentimentScore = sentiment.Score
		rec.SentimentLabel = sentiment.Label
	}
	created, err := s.escalations.CreateOpen(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		logger.Debug("escalation already open, not re-triggering")
		return &EscalationOutcome{Record: rec, Delivered: rec.Delivered}, nil
	}

	status := model.ConversationEscalated
	if err := s.conversations.Update(ctx, conv.ID, &model.ConversationPatch{Status: &status}); err != nil {
		logger.Error("failed to mark conversation escalated", zap.Error(err))
	}

	delivered := s.deliver(ctx, rec, &ticketing.Ticket{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Role:           handoff.Role,
		Email:          handoff.Email,
		Reason:         reason,
		SentimentScore: rec.SentimentScore,
		Summary:        handoff.Summary,
		Transcript:     s.transcriptTail(ctx, conv.ID),
	})
	logger.Info("conversation escalated", zap.Bool("delivered", delivered))
	return &EscalationOutcome{Record: rec, Created: true, Delivered: delivered}, nil
}

// transcriptTail is best effort: a ticket without a transcript still reaches
// the support queue.
func (s *EscalationService) transcriptTail(ctx context.Context, conversationID string) []ticketing.TranscriptEntry {
	if s.turns == nil {
		return nil
	}
	turns, err := s.turns.Recent(ctx, conversationID, handoffTranscriptTurns)
	if err != nil {
		logutil.GetLogger(ctx).Warn("failed to load handoff transcript",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	entries := make([]ticketing.TranscriptEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, ticketing.TranscriptEntry{Role: t.Role, Content: t.Content})
	}
	return entries
}

// Resolve closes the open escalation and returns the conversation to active,
// so a later trigger can open a fresh one.
func (s *EscalationService) Resolve(ctx context.Context, conversationID string) (*model.EscalationRecord, error) {
	rec, err := s.escalations.GetOpen(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.escalations.Close(ctx, conversationID); err != nil {
		return nil, err
	}
	rec.Status = model.EscalationClosed
	status := model.ConversationActive
	if err := s.conversations.Update(ctx, conversationID, &model.ConversationPatch{Status: &status}); err != nil {
		logutil.GetLogger(ctx).Error("escalation closed but conversation not reactivated",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return rec, nil
}

func (s *EscalationService) deliver(ctx context.Context, rec *model.EscalationRecord, ticket *ticketing.Ticket) bool {
	logger := logutil.GetLogger(ctx).With(zap.String("escalation_id", rec.ID))
	ticketRef, err := s.tickets.Create(ctx, ticket)
	rec.Attempts++
	if err != nil {
		logger.Warn("ticket delivery failed, redelivery job will retry", zap.Error(err))
		if berr := s.escalations.BumpAttempts(ctx, rec.ID, rec.Attempts); berr != nil {
			logger.Error("failed to record delivery attempt", zap.Error(berr))
		}
		return false
	}
	rec.TicketRef = ticketRef
	rec.Delivered = true
	if merr := s.escalations.MarkDelivered(ctx, rec.ID, ticketRef, rec.Attempts); merr != nil {
		logger.Error("ticket delivered but not recorded", zap.String("ticket_ref", ticketRef), zap.Error(merr))
	}
	return true
}

// Redeliver retries every undelivered open escalation once. Called from the
// scheduler.
func (s *EscalationService) Redeliver(ctx context.Context, batch int) (delivered int, err error) {
	if batch <= 0 {
		batch = 50
	}
	recs, err := s.escalations.ListUndelivered(ctx, batch)
	if err != nil {
		return 0, err
	}
	for i := range recs {
		rec := &recs[i]
		conv, cerr := s.conversations.Get(ctx, rec.ConversationID)
		if cerr != nil {
			logutil.GetLogger(ctx).Error("undelivered escalation points at missing conversation",
				zap.String("escalation_id", rec.ID), zap.Error(cerr))
			continue
		}
		if s.deliver(ctx, rec, &ticketing.Ticket{
			ConversationID: rec.ConversationID,
			UserID:         conv.UserID,
			Role:           rec.UserRole,
			Email:          rec.UserEmail,
			Reason:         rec.Reason,
			SentimentScore: rec.SentimentScore,
			Summary:        "redelivery of escalation " + rec.ID,
			Transcript:     s.transcriptTail(ctx, rec.ConversationID),
		}) {
			delivered++
		}
	}
	return delivered, nil
}
