package model

const (
	ConversationActive    = "active"
	ConversationEscalated = "escalated"
	ConversationClosed    = "closed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is the mutable header over an append-only turn log. The
// counters are a cached projection; the turns remain the source of truth.
type Conversation struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	MessageCount int    `json:"message_count"`
	FailureCount int    `json:"failure_count"`
	LastActivity int64  `json:"last_activity"`
	Ctime        int64  `json:"ctime"`
}

// ConversationPatch updates selected header fields. Nil means leave unchanged.
type ConversationPatch struct {
	Status       *string
	MessageCount *int
	FailureCount *int
	LastActivity *int64
}

type Turn struct {
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	Ctime          int64      `json:"ctime"`
}

// Citation links an [n] marker in assistant text to the chunk it came from.
type Citation struct {
	Marker     int    `json:"marker"`
	SourceKey  string `json:"source_key"`
	ChunkIndex int    `json:"chunk_index"`
	Excerpt    string `json:"excerpt"`
}

// ToolCall records one step of the agent loop within a turn. Seq values are
// contiguous from 0.
type ToolCall struct {
	Seq         int    `json:"seq"`
	Tool        string `json:"tool"`
	Input       string `json:"input"`
	Observation string `json:"observation"`
	IsError     bool   `json:"is_error,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
