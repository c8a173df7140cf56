package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderhq/navigator/internal/model"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/ticketing"
)

type memEscalations struct {
	open map[string]*model.EscalationRecord // by conversation id
	seq  int
}

func newMemEscalations() *memEscalations {
	return &memEscalations{open: map[string]*model.EscalationRecord{}}
}

func (m *memEscalations) CreateOpen(_ context.Context, rec *model.EscalationRecord) (bool, error) {
	if existing, ok := m.open[rec.ConversationID]; ok {
		*rec = *existing
		return false, nil
	}
	m.seq++
	rec.ID = fmt.Sprintf("esc-%d", m.seq)
	rec.Status = model.EscalationOpen
	cp := *rec
	m.open[rec.ConversationID] = &cp
	return true, nil
}

func (m *memEscalations) GetOpen(_ context.Context, conversationID string) (*model.EscalationRecord, error) {
	rec, ok := m.open[conversationID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memEscalations) Close(_ context.Context, conversationID string) error {
	if _, ok := m.open[conversationID]; !ok {
		return appErr.ErrNotFound
	}
	delete(m.open, conversationID)
	return nil
}

func (m *memEscalations) MarkDelivered(_ context.Context, id, ticketRef string, attempts int) error {
	for _, rec := range m.open {
		if rec.ID == id {
			rec.Delivered = true
			rec.TicketRef = ticketRef
			rec.Attempts = attempts
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (m *memEscalations) BumpAttempts(_ context.Context, id string, attempts int) error {
	for _, rec := range m.open {
		if rec.ID == id {
			rec.Attempts = attempts
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (m *memEscalations) ListUndelivered(_ context.Context, _ int) ([]model.EscalationRecord, error) {
	var out []model.EscalationRecord
	for _, rec := range m.open {
		if !rec.Delivered {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type memConversations struct {
	byID map[string]*model.Conversation
}

func newMemConversations(convs ...*model.Conversation) *memConversations {
	m := &memConversations{byID: map[string]*model.Conversation{}}
	for _, c := range convs {
		cp := *c
		m.byID[c.ID] = &cp
	}
	return m
}

func (m *memConversations) Get(_ context.Context, id string) (*model.Conversation, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) Update(_ context.Context, id string, patch *model.ConversationPatch) error {
	c, ok := m.byID[id]
	if !ok {
		return appErr.ErrNotFound
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.FailureCount != nil {
		c.FailureCount = *patch.FailureCount
	}
	return nil
}

type fakeTickets struct {
	fail  bool
	calls int
	last  *ticketing.Ticket
}

func (f *fakeTickets) Create(_ context.Context, t *ticketing.Ticket) (string, error) {
	f.calls++
	f.last = t
	if f.fail {
		return "", fmt.Errorf("ticketing down")
	}
	return fmt.Sprintf("TCK-%d", f.calls), nil
}

func TestPolicyPrecedence(t *testing.T) {
	policy := EscalationPolicy{SentimentThreshold: -0.4, FailureThreshold: 2}

	// An explicit request wins even when sentiment is glowing.
	reason, should := policy.Evaluate(true, &model.Sentiment{Score: 0.9, Label: "positive"}, 0)
	require.True(t, should)
	assert.Equal(t, model.ReasonExplicitRequest, reason)

	reason, should = policy.Evaluate(false, &model.Sentiment{Score: -0.8, Label: "negative"}, 5)
	require.True(t, should)
	assert.Equal(t, model.ReasonNegativeSentiment, reason)

	reason, should = policy.Evaluate(false, &model.Sentiment{Score: 0.1, Label: "neutral"}, 2)
	require.True(t, should)
	assert.Equal(t, model.ReasonRepeatedFailure, reason)

	_, should = policy.Evaluate(false, &model.Sentiment{Score: 0.1, Label: "neutral"}, 1)
	assert.False(t, should)

	// Missing sentiment never escalates on the sentiment rule.
	_, should = policy.Evaluate(false, nil, 0)
	assert.False(t, should)
}

func TestPolicyThresholdBoundary(t *testing.T) {
	policy := EscalationPolicy{SentimentThreshold: -0.4, FailureThreshold: 2}
	// Exactly at the threshold escalates.
	reason, should := policy.Evaluate(false, &model.Sentiment{Score: -0.4}, 0)
	require.True(t, should)
	assert.Equal(t, model.ReasonNegativeSentiment, reason)

	_, should = policy.Evaluate(false, &model.Sentiment{Score: -0.39}, 0)
	assert.False(t, should)
}

func newEscalationFixture(fail bool) (*EscalationService, *memEscalations, *memConversations, *fakeTickets) {
	escalations := newMemEscalations()
	conversations := newMemConversations(&model.Conversation{ID: "c1", UserID: "u1", Status: model.ConversationActive})
	tickets := &fakeTickets{fail: fail}
	svc := NewEscalationService(
		EscalationPolicy{SentimentThreshold: -0.4, FailureThreshold: 2},
		escalations, conversations, tickets, newMemTurns())
	return svc, escalations, conversations, tickets
}

func TestTriggerIdempotent(t *testing.T) {
	svc, _, conversations, tickets := newEscalationFixture(false)
	conv, _ := conversations.Get(context.Background(), "c1")

	first, err := svc.Trigger(context.Background(), conv, model.ReasonExplicitRequest, nil, Handoff{Summary: "please help"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.Delivered)

	second, err := svc.Trigger(context.Background(), conv, model.ReasonNegativeSentiment, nil, Handoff{Summary: "still angry"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, model.ReasonExplicitRequest, second.Record.Reason, "the original reason is kept")
	assert.Equal(t, 1, tickets.calls, "one ticket per escalated conversation")

	updated, _ := conversations.Get(context.Background(), "c1")
	assert.Equal(t, model.ConversationEscalated, updated.Status)
}

func TestTriggerDeliveryFailureDegrades(t *testing.T) {
	svc, escalations, conversations, tickets := newEscalationFixture(true)
	conv, _ := conversations.Get(context.Background(), "c1")

	outcome, err := svc.Trigger(context.Background(), conv, model.ReasonRepeatedFailure, nil, Handoff{Summary: "no luck"})
	require.NoError(t, err, "ticketing being down does not fail the escalation")
	assert.True(t, outcome.Created)
	assert.False(t, outcome.Delivered)

	undelivered, err := escalations.ListUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)
	assert.Equal(t, 1, undelivered[0].Attempts)

	// The conversation still flips to escalated.
	updated, _ := conversations.Get(context.Background(), "c1")
	assert.Equal(t, model.ConversationEscalated, updated.Status)

	// Once ticketing recovers, redelivery drains the backlog.
	tickets.fail = false
	n, err := svc.Redeliver(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	undelivered, _ = escalations.ListUndelivered(context.Background(), 10)
	assert.Empty(t, undelivered)
}

func TestTriggerRecordsSentiment(t *testing.T) {
	svc, _, conversations, tickets := newEscalationFixture(false)
	conv, _ := conversations.Get(context.Background(), "c1")

	outcome, err := svc.Trigger(context.Background(), conv, model.ReasonNegativeSentiment,
		&model.Sentiment{Score: -0.7, Label: "negative"}, Handoff{Summary: "this is useless"})
	require.NoError(t, err)
	assert.Equal(t, -0.7, outcome.Record.SentimentScore)
	assert.Equal(t, -0.7, tickets.last.SentimentScore)
}

func TestTriggerTicketCarriesHandoffContext(t *testing.T) {
	escalations := newMemEscalations()
	conversations := newMemConversations(&model.Conversation{ID: "c1", UserID: "u1", Status: model.ConversationActive})
	tickets := &fakeTickets{}
	turns := newMemTurns()
	svc := NewEscalationService(
		EscalationPolicy{SentimentThreshold: -0.4, FailureThreshold: 2},
		escalations, conversations, tickets, turns)

	for i := 0; i < 8; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		require.NoError(t, turns.Append(context.Background(), &model.Turn{
			ConversationID: "c1", Role: role, Content: fmt.Sprintf("turn %d", i)}))
	}

	conv, _ := conversations.Get(context.Background(), "c1")
	outcome, err := svc.Trigger(context.Background(), conv, model.ReasonExplicitRequest, nil,
		Handoff{Summary: "talk to a human", Role: "customer", Email: "pat@example.com"})
	require.NoError(t, err)
	require.True(t, outcome.Created)

	require.NotNil(t, tickets.last)
	assert.Equal(t, "customer", tickets.last.Role)
	assert.Equal(t, "pat@example.com", tickets.last.Email)
	require.Len(t, tickets.last.Transcript, 6, "support agents get the tail of the conversation")
	assert.Equal(t, "turn 2", tickets.last.Transcript[0].Content)
	assert.Equal(t, "turn 7", tickets.last.Transcript[5].Content)
	assert.Equal(t, model.RoleAssistant, tickets.last.Transcript[5].Role)

	// The record keeps the caller context so redelivery can rebuild the ticket.
	assert.Equal(t, "customer", outcome.Record.UserRole)
	assert.Equal(t, "pat@example.com", outcome.Record.UserEmail)
}

func TestResolveReturnsConversationToActive(t *testing.T) {
	svc, _, conversations, tickets := newEscalationFixture(false)
	conv, _ := conversations.Get(context.Background(), "c1")

	first, err := svc.Trigger(context.Background(), conv, model.ReasonExplicitRequest, nil, Handoff{Summary: "please help"})
	require.NoError(t, err)
	require.True(t, first.Created)

	rec, err := svc.Resolve(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, model.EscalationClosed, rec.Status)

	updated, _ := conversations.Get(context.Background(), "c1")
	assert.Equal(t, model.ConversationActive, updated.Status)

	// With the old one closed, a new escalation opens a fresh record.
	again, err := svc.Trigger(context.Background(), updated, model.ReasonNegativeSentiment, nil, Handoff{Summary: "angry again"})
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.NotEqual(t, first.Record.ID, again.Record.ID)
	assert.Equal(t, 2, tickets.calls)
}

func TestResolveWithoutOpenEscalation(t *testing.T) {
	svc, _, _, _ := newEscalationFixture(false)
	_, err := svc.Resolve(context.Background(), "c1")
	assert.ErrorIs(t, err, appErr.ErrNotFound)
}
