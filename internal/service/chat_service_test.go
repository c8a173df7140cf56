package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderhq/navigator/internal/model"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/retrieval"
	"github.com/calderhq/navigator/internal/tool"
)

func (m *memConversations) GetOrCreate(_ context.Context, id, userID string) (*model.Conversation, error) {
	if c, ok := m.byID[id]; ok {
		if c.UserID != userID {
			return nil, appErr.ErrForbidden
		}
		cp := *c
		return &cp, nil
	}
	c := &model.Conversation{ID: id, UserID: userID, Status: model.ConversationActive}
	m.byID[id] = c
	cp := *c
	return &cp, nil
}

func (m *memConversations) BumpFailureCount(_ context.Context, id string) (int, error) {
	c, ok := m.byID[id]
	if !ok {
		return 0, appErr.ErrNotFound
	}
	c.FailureCount++
	return c.FailureCount, nil
}

func (m *memConversations) ResetFailureCount(_ context.Context, id string) error {
	c, ok := m.byID[id]
	if !ok {
		return appErr.ErrNotFound
	}
	c.FailureCount = 0
	return nil
}

type memTurns struct {
	byConv map[string][]model.Turn
}

func newMemTurns() *memTurns {
	return &memTurns{byConv: map[string][]model.Turn{}}
}

func (m *memTurns) Append(ctx context.Context, turn *model.Turn) error {
	// Real stores run ExecContext and refuse canceled contexts.
	if err := ctx.Err(); err != nil {
		return err
	}
	turns := m.byConv[turn.ConversationID]
	turn.Seq = int64(len(turns))
	m.byConv[turn.ConversationID] = append(turns, *turn)
	return nil
}

func (m *memTurns) Recent(_ context.Context, conversationID string, limit int) ([]model.Turn, error) {
	turns := m.byConv[conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]model.Turn(nil), turns...), nil
}

func (m *memTurns) List(_ context.Context, conversationID string, limit, offset uint) ([]model.Turn, error) {
	turns := m.byConv[conversationID]
	if offset >= uint(len(turns)) {
		return nil, nil
	}
	turns = turns[offset:]
	if uint(len(turns)) > limit {
		turns = turns[:limit]
	}
	return append([]model.Turn(nil), turns...), nil
}

type fakeSearcher struct {
	results []retrieval.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ *retrieval.Query) ([]retrieval.Result, error) {
	return f.results, f.err
}

type fakeSentiment struct {
	sentiment *model.Sentiment
	err       error
}

func (f *fakeSentiment) Classify(_ context.Context, _ string) (*model.Sentiment, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.sentiment == nil {
		return &model.Sentiment{Score: 0, Label: "neutral"}, nil
	}
	return f.sentiment, nil
}

type chatFixture struct {
	svc           *ChatService
	conversations *memConversations
	turns         *memTurns
	escalations   *memEscalations
	tickets       *fakeTickets
	searcher      *fakeSearcher
	sentiment     *fakeSentiment
}

func newChatFixture(t *testing.T, agentGen, answerGen *sequenceGen, answerStream *scriptedGen) *chatFixture {
	t.Helper()
	conversations := newMemConversations()
	turns := newMemTurns()
	escalations := newMemEscalations()
	tickets := &fakeTickets{}
	searcher := &fakeSearcher{results: []retrieval.Result{passage("kb/hours", "Open 8am to 10pm.")}}
	sentiment := &fakeSentiment{}

	reg := tool.NewRegistry(time.Second)
	require.NoError(t, reg.Register(tool.NewEscalateTool()))

	var agent *AgentService
	if agentGen != nil {
		agent = NewAgentService(agentGen, reg, 3)
	} else {
		agent = NewAgentService(&sequenceGen{outputs: []string{`{"action": "answer", "note": ""}`}}, reg, 3)
	}

	var generation *GenerationService
	if answerStream != nil {
		generation = NewGenerationService(answerStream)
	} else if answerGen != nil {
		generation = NewGenerationService(answerGen)
	} else {
		generation = NewGenerationService(&scriptedGen{fragments: []string{"They open at 8am. [1]"}, failAfter: -1})
	}

	escalation := NewEscalationService(
		EscalationPolicy{SentimentThreshold: -0.4, FailureThreshold: 2},
		escalations, conversations, tickets, turns)

	svc := NewChatService(conversations, turns, searcher,
		NewContextAssembler(10, 3000), agent, generation, escalation, sentiment, 10)
	return &chatFixture{
		svc:           svc,
		conversations: conversations,
		turns:         turns,
		escalations:   escalations,
		tickets:       tickets,
		searcher:      searcher,
		sentiment:     sentiment,
	}
}

func learnerRequest(message string) *ChatRequest {
	return &ChatRequest{
		ConversationID: "c1",
		UserID:         "u1",
		Role:           retrieval.RoleLearner,
		Email:          "u1@example.edu",
		Message:        message,
	}
}

func TestChatHappyPath(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)

	var streamed strings.Builder
	resp, err := fx.svc.Handle(context.Background(), learnerRequest("when does the library open"), func(f string) error {
		streamed.WriteString(f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "They open at 8am. [1]", resp.Text)
	assert.Equal(t, resp.Text, streamed.String())
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "kb/hours", resp.Citations[0].SourceKey)
	assert.Equal(t, model.ConversationActive, resp.Status)
	assert.Nil(t, resp.Escalation)

	turns := fx.turns.byConv["c1"]
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Equal(t, resp.Text, turns[1].Content)

	conv, _ := fx.conversations.Get(context.Background(), "c1")
	assert.Equal(t, 0, conv.FailureCount)
}

func TestChatEmptyMessageRejected(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)
	_, err := fx.svc.Handle(context.Background(), learnerRequest("   "), nil)
	assert.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestChatSinkDeathStillPersistsTurn(t *testing.T) {
	fx := newChatFixture(t, nil, nil,
		&scriptedGen{fragments: []string{"part one ", "part two"}, failAfter: -1})

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("hello"), func(string) error {
		return fmt.Errorf("client disconnected")
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Text)

	turns := fx.turns.byConv["c1"]
	require.Len(t, turns, 2)
	assert.Equal(t, "part one part two", turns[1].Content,
		"the persisted turn holds the full text the client never saw")
}

func TestChatDisconnectStillPersistsPartialAnswer(t *testing.T) {
	fx := newChatFixture(t, nil, nil,
		&scriptedGen{fragments: []string{"partial ", "answer ", "never sent"}, failAfter: 2})

	// The sink cancels the request context the way net/http does when the
	// SSE client drops, and the provider dies right after.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := fx.svc.Handle(ctx, learnerRequest("hello"), func(string) error {
		cancel()
		return fmt.Errorf("client disconnected")
	})
	require.NoError(t, err)
	assert.Equal(t, "partial answer ", resp.Text)
	assert.True(t, resp.Interrupted)
	assert.False(t, resp.Degraded)

	turns := fx.turns.byConv["c1"]
	require.Len(t, turns, 2)
	assert.Equal(t, "partial answer ", turns[1].Content,
		"the partial answer survives the caller going away")
	assert.Equal(t, 1, fx.conversations.byID["c1"].FailureCount,
		"the interrupted turn still counts toward repeated-failure escalation")
}

func TestChatRetrievalFailureDegrades(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)
	fx.searcher.err = fmt.Errorf("vector store timeout")

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("library hours"), nil)
	require.NoError(t, err, "retrieval being down never fails the turn")
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Text)
	assert.Empty(t, resp.Citations)
}

func TestChatGenerationFailureFallsBackAndCountsFailure(t *testing.T) {
	fx := newChatFixture(t, nil, nil, &scriptedGen{fragments: nil, failAfter: 0})

	var streamed strings.Builder
	resp, err := fx.svc.Handle(context.Background(), learnerRequest("anything"), func(f string) error {
		streamed.WriteString(f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, resp.Text)
	assert.Equal(t, FallbackAnswer, streamed.String())

	conv, _ := fx.conversations.Get(context.Background(), "c1")
	assert.Equal(t, 1, conv.FailureCount)
	assert.Nil(t, resp.Escalation, "one failure is below the threshold")
}

func TestChatRepeatedFailureEscalates(t *testing.T) {
	fx := newChatFixture(t, nil, nil, &scriptedGen{fragments: nil, failAfter: 0})

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("first try"), nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Escalation)

	resp, err = fx.svc.Handle(context.Background(), learnerRequest("second try"), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, model.ReasonRepeatedFailure, resp.Escalation.Record.Reason)
	assert.Equal(t, model.ConversationEscalated, resp.Status)
	assert.Equal(t, 1, fx.tickets.calls)

	// A third failing turn does not open a second escalation.
	resp, err = fx.svc.Handle(context.Background(), learnerRequest("third try"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.tickets.calls)
}

func TestChatExplicitPhraseEscalates(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)
	fx.sentiment.sentiment = &model.Sentiment{Score: 0.9, Label: "positive"}

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("great bot, but I want to speak to a human now"), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, model.ReasonExplicitRequest, resp.Escalation.Record.Reason,
		"explicit request wins over positive sentiment")
	assert.Equal(t, model.ConversationEscalated, resp.Status)

	// The ticket carries the caller's identity and the transcript so the
	// support agent does not start blind.
	require.NotNil(t, fx.tickets.last)
	assert.Equal(t, retrieval.RoleLearner, fx.tickets.last.Role)
	assert.Equal(t, "u1@example.edu", fx.tickets.last.Email)
	require.NotEmpty(t, fx.tickets.last.Transcript)
	assert.Equal(t, model.RoleUser, fx.tickets.last.Transcript[0].Role)
}

func TestChatEscalateToolTriggersExplicit(t *testing.T) {
	agentGen := &sequenceGen{outputs: []string{
		`{"action": "tool", "tool": "escalate", "input": "user needs hands-on help"}`,
		`{"action": "answer", "note": "confirm the handoff"}`,
	}}
	fx := newChatFixture(t, agentGen, nil, nil)

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("I cannot log in at all"), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, model.ReasonExplicitRequest, resp.Escalation.Record.Reason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "escalate", resp.ToolCalls[0].Tool)
}

func TestChatNegativeSentimentEscalates(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)
	fx.sentiment.sentiment = &model.Sentiment{Score: -0.8, Label: "negative"}

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("this is the worst support ever"), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Escalation)
	assert.Equal(t, model.ReasonNegativeSentiment, resp.Escalation.Record.Reason)
}

func TestChatSentimentOutageIsNeutral(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)
	fx.sentiment.err = fmt.Errorf("classifier down")

	resp, err := fx.svc.Handle(context.Background(), learnerRequest("works fine"), nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Escalation)
	assert.NotEmpty(t, resp.Text)
}

func TestChatTurnsOwnership(t *testing.T) {
	fx := newChatFixture(t, nil, nil, nil)
	_, err := fx.svc.Handle(context.Background(), learnerRequest("hi"), nil)
	require.NoError(t, err)

	turns, err := fx.svc.Turns(context.Background(), "c1", "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	_, err = fx.svc.Turns(context.Background(), "c1", "someone-else", 0, 0)
	assert.ErrorIs(t, err, appErr.ErrForbidden)
}
