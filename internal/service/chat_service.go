package service

import (
	"context"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/ai"
	"github.com/calderhq/navigator/internal/ingest"
	"github.com/calderhq/navigator/internal/model"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/pkg/keymutex"
	"github.com/calderhq/navigator/internal/retrieval"
	"github.com/calderhq/navigator/internal/tool"
)

type ConversationStore interface {
	GetOrCreate(ctx context.Context, id, userID string) (*model.Conversation, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Update(ctx context.Context, id string, patch *model.ConversationPatch) error
	BumpFailureCount(ctx context.Context, id string) (int, error)
	ResetFailureCount(ctx context.Context, id string) error
}

type TurnStore interface {
	Append(ctx context.Context, turn *model.Turn) error
	Recent(ctx context.Context, conversationID string, limit int) ([]model.Turn, error)
	List(ctx context.Context, conversationID string, limit, offset uint) ([]model.Turn, error)
}

type Searcher interface {
	Search(ctx context.Context, q *retrieval.Query) ([]retrieval.Result, error)
}

type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (*model.Sentiment, error)
}

type ChatRequest struct {
	ConversationID string
	UserID         string
	Role           string
	Email          string
	Language       string
	Message        string
}

type ChatResponse struct {
	ConversationID string
	Seq            int64
	Text           string
	Citations      []model.Citation
	ToolCalls      []model.ToolCall
	Usage          ai.Usage
	Interrupted    bool
	Degraded       bool
	Escalation     *EscalationOutcome
	Status         string
}

// phrases that count as an explicit request for a human even when the agent
// never invoked the escalate tool.
var escalationPhrases = []string{
	"speak to a human",
	"talk to a human",
	"speak with a human",
	"talk to a person",
	"real person",
	"human agent",
	"speak to someone",
	"talk to an agent",
	"customer service representative",
}

// ChatService runs one user message end to end: persist the user turn, plan
// with tools, stream the answer, persist the assistant turn, then evaluate
// escalation. Turns within one conversation are serialized on a per-key
// lock, so sequence numbers and failure counters never interleave.
type ChatService struct {
	conversations ConversationStore
	turns         TurnStore
	searcher      Searcher
	assembler     *ContextAssembler
	agent         *AgentService
	generation    *GenerationService
	escalation    *EscalationService
	sentiment     SentimentClassifier
	keys          *keymutex.KeyMutex
	historyTurns  int
}

func NewChatService(
	conversations ConversationStore,
	turns TurnStore,
	searcher Searcher,
	assembler *ContextAssembler,
	agent *AgentService,
	generation *GenerationService,
	escalation *EscalationService,
	sentiment SentimentClassifier,
	historyTurns int,
) *ChatService {
	if historyTurns <= 0 {
		historyTurns = 10
	}
	return &ChatService{
		conversations: conversations,
		turns:         turns,
		searcher:      searcher,
		assembler:     assembler,
		agent:         agent,
		generation:    generation,
		escalation:    escalation,
		sentiment:     sentiment,
		keys:          keymutex.New(),
		historyTurns:  historyTurns,
	}
}

// Handle processes one user message, forwarding answer fragments to
// onFragment as they arrive. The returned response reflects what was
// persisted, even when the caller's sink died mid-stream.
func (s *ChatService) Handle(ctx context.Context, req *ChatRequest, onFragment ai.StreamHandler) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, appErr.ErrInvalid
	}
	s.keys.Lock(req.ConversationID)
	defer s.keys.Unlock(req.ConversationID)

	logger := logutil.GetLogger(ctx).With(
		zap.String("conversation_id", req.ConversationID), zap.String("user_id", req.UserID))

	conv, err := s.conversations.GetOrCreate(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}

	userTurn := &model.Turn{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        req.Message,
		Ctime:          time.Now().Unix(),
	}
	if err := s.turns.Append(ctx, userTurn); err != nil {
		return nil, err
	}

	history, err := s.turns.Recent(ctx, conv.ID, s.historyTurns)
	if err != nil {
		logger.Warn("failed to load history, answering without it", zap.Error(err))
		history = nil
	}
	// The just-appended user turn is rendered separately.
	if n := len(history); n > 0 && history[n-1].Seq == userTurn.Seq {
		history = history[:n-1]
	}

	language := req.Language
	if language == "" {
		language = ingest.DetectLanguage(req.Message)
	}
	scope := &tool.Scope{
		ConversationID:   conv.ID,
		UserID:           req.UserID,
		Role:             req.Role,
		AllowedAudiences: retrieval.AllowedAudiences(req.Role),
		Language:         language,
	}
	ctx = tool.WithScope(ctx, scope)

	passages, degraded := s.retrieve(ctx, scope, req.Message)
	decision, err := s.agent.Run(ctx, req.Message, summarizeHistory(history))
	if err != nil {
		logger.Warn("agent loop failed, answering without tools", zap.Error(err))
		decision = &AgentDecision{}
	}
	// A search inside the loop supersedes the initial retrieval.
	if len(scope.Retrieved) > 0 {
		passages = scope.Retrieved
	}

	prompt := s.assembler.Build(&PromptInput{
		Role:        req.Role,
		History:     history,
		Passages:    passages,
		Transcript:  decision.Transcript,
		UserMessage: req.Message,
	})

	resp := &ChatResponse{ConversationID: conv.ID, ToolCalls: decision.Transcript, Degraded: degraded}
	resp.Usage.Add(decision.Usage)

	result, genErr := s.generation.Stream(ctx, prompt, passages, onFragment)
	answered := genErr == nil && !result.Interrupted
	if genErr != nil {
		logger.Error("generation failed, falling back", zap.Error(genErr))
		result = &GenerationResult{Text: FallbackAnswer}
		if onFragment != nil {
			_ = onFragment(FallbackAnswer)
		}
	}
	resp.Text = result.Text
	resp.Citations = result.Citations
	resp.Interrupted = result.Interrupted
	resp.Usage.Add(result.Usage)

	// The caller disconnecting cancels the request context, but the partial
	// answer it already saw must still be persisted and escalation still
	// evaluated; everything after streaming runs detached from it.
	persistCtx := context.WithoutCancel(ctx)

	assistantTurn := &model.Turn{
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        result.Text,
		Citations:      result.Citations,
		ToolCalls:      decision.Transcript,
		Ctime:          time.Now().Unix(),
	}
	if err := s.turns.Append(persistCtx, assistantTurn); err != nil {
		// The user already saw the streamed text; losing the turn is worse
		// than a degraded response flag.
		logger.Error("failed to persist assistant turn", zap.Error(err))
		resp.Degraded = true
	}
	resp.Seq = assistantTurn.Seq

	failureCount := s.trackFailures(persistCtx, conv.ID, answered, logger)
	resp.Status = s.evaluateEscalation(persistCtx, conv, req, scope, failureCount, resp)
	return resp, nil
}

// retrieve is the baseline retrieval pass before the agent runs. Failure
// degrades to an empty context instead of failing the turn.
func (s *ChatService) retrieve(ctx context.Context, scope *tool.Scope, message string) ([]retrieval.Result, bool) {
	passages, err := s.searcher.Search(ctx, &retrieval.Query{
		Text:             message,
		AllowedAudiences: scope.AllowedAudiences,
		Language:         scope.Language,
	})
	if err != nil {
		logutil.GetLogger(ctx).Warn("retrieval failed, continuing without context", zap.Error(err))
		return nil, true
	}
	return passages, false
}

func (s *ChatService) trackFailures(ctx context.Context, convID string, answered bool, logger *zap.Logger) int {
	if answered {
		if err := s.conversations.ResetFailureCount(ctx, convID); err != nil {
			logger.Error("failed to reset failure count", zap.Error(err))
		}
		return 0
	}
	count, err := s.conversations.BumpFailureCount(ctx, convID)
	if err != nil {
		logger.Error("failed to bump failure count", zap.Error(err))
		return 0
	}
	return count
}

func (s *ChatService) evaluateEscalation(ctx context.Context, conv *model.Conversation, req *ChatRequest, scope *tool.Scope, failureCount int, resp *ChatResponse) string {
	logger := logutil.GetLogger(ctx).With(zap.String("conversation_id", conv.ID))

	sent, err := s.sentiment.Classify(ctx, req.Message)
	if err != nil {
		// The classifier being down must not block answers; treat as neutral.
		logger.Warn("sentiment classification unavailable", zap.Error(err))
		sent = nil
	}
	explicit := scope.EscalateRequested || containsEscalationPhrase(req.Message)
	reason, should := s.escalation.Policy().Evaluate(explicit, sent, failureCount)
	if !should {
		if conv.Status == model.ConversationEscalated {
			return model.ConversationEscalated
		}
		return model.ConversationActive
	}
	handoff := Handoff{Summary: req.Message, Role: req.Role, Email: req.Email}
	if scope.EscalateUserReason != "" {
		handoff.Summary = scope.EscalateUserReason
	}
	outcome, err := s.escalation.Trigger(ctx, conv, reason, sent, handoff)
	if err != nil {
		logger.Error("escalation trigger failed", zap.Error(err))
		resp.Degraded = true
		return conv.Status
	}
	resp.Escalation = outcome
	return model.ConversationEscalated
}

// Turns lists a conversation's transcript, enforcing ownership.
func (s *ChatService) Turns(ctx context.Context, conversationID, userID string, limit, offset uint) ([]model.Turn, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, appErr.ErrForbidden
	}
	if limit == 0 {
		limit = 100
	}
	return s.turns.List(ctx, conversationID, limit, offset)
}

func containsEscalationPhrase(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range escalationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func summarizeHistory(history []model.Turn) string {
	if len(history) == 0 {
		return "(new conversation)"
	}
	var sb strings.Builder
	start := 0
	if len(history) > 4 {
		start = len(history) - 4
	}
	for _, t := range history[start:] {
		content := t.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String()
}
