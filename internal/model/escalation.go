package model

const (
	ReasonExplicitRequest   = "explicit_request"
	ReasonNegativeSentiment = "negative_sentiment"
	ReasonRepeatedFailure   = "repeated_failure"
)

const (
	EscalationOpen   = "open"
	EscalationClosed = "closed"
)

// EscalationRecord is the handoff state for one conversation. At most one
// open record may exist per conversation; conversation.status == escalated
// exactly while one does.
type EscalationRecord struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	UserRole       string  `json:"user_role,omitempty"`
	UserEmail      string  `json:"user_email,omitempty"`
	Reason         string  `json:"reason"`
	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label"`
	TicketRef      string  `json:"ticket_ref,omitempty"`
	Status         string  `json:"status"`
	Delivered      bool    `json:"delivered"`
	Attempts       int     `json:"attempts"`
	Ctime          int64   `json:"ctime"`
}

// Sentiment is the external classifier's verdict on a user turn.
type Sentiment struct {
	Score float64 `json:"score"` // -1..1
	Label string  `json:"label"` // negative | neutral | positive
}
