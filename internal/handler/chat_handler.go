package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/errcode"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type sendRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

type escalationView struct {
	Reason    string `json:"reason"`
	TicketRef string `json:"ticket_ref,omitempty"`
	Delivered bool   `json:"delivered"`
}

type doneEvent struct {
	ConversationID string           `json:"conversation_id"`
	Seq            int64            `json:"seq"`
	Text           string           `json:"text"`
	Citations      []model.Citation `json:"citations"`
	ToolCalls      []model.ToolCall `json:"tool_calls,omitempty"`
	Usage          model.TokenUsage `json:"usage"`
	Interrupted    bool             `json:"interrupted,omitempty"`
	Degraded       bool             `json:"degraded,omitempty"`
	Status         string           `json:"status"`
	Code           int              `json:"code,omitempty"`
	Message        string           `json:"message,omitempty"`
	Escalation     *escalationView  `json:"escalation,omitempty"`
}

// Send streams the assistant's answer over SSE: delta events while text is
// generated, then one done event carrying the persisted turn. Escalation is
// evaluated after the answer, so its outcome rides on the done event rather
// than delaying the stream.
func (h *ChatHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		handleError(c, appErr.ErrInvalid)
		return
	}
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		handleError(c, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resp, err := h.chat.Handle(c.Request.Context(), &service.ChatRequest{
		ConversationID: c.Param("id"),
		UserID:         getUserID(c),
		Role:           getRole(c),
		Email:          getEmail(c),
		Language:       req.Language,
		Message:        req.Message,
	}, func(fragment string) error {
		return writeEvent(w, flusher, "delta", gin.H{"delta": fragment})
	})
	if err != nil {
		_ = writeEvent(w, flusher, "error", gin.H{"message": publicErrorMessage(err)})
		return
	}

	done := &doneEvent{
		ConversationID: resp.ConversationID,
		Seq:            resp.Seq,
		Text:           resp.Text,
		Citations:      orEmpty(resp.Citations),
		ToolCalls:      resp.ToolCalls,
		Usage:          model.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens},
		Interrupted:    resp.Interrupted,
		Degraded:       resp.Degraded,
		Status:         resp.Status,
	}
	done.Code, done.Message = resultCode(resp)
	if resp.Escalation != nil {
		done.Escalation = &escalationView{
			Reason:    resp.Escalation.Record.Reason,
			TicketRef: resp.Escalation.Record.TicketRef,
			Delivered: resp.Escalation.Delivered,
		}
	}
	_ = writeEvent(w, flusher, "done", done)
}

// resultCode maps a degraded-but-delivered answer to the code the client
// surfaces alongside it. An interrupted stream outranks a degraded
// collaborator: the client cares first that the text is incomplete.
func resultCode(resp *service.ChatResponse) (int, string) {
	switch {
	case resp.Interrupted:
		return errcode.ErrGenerationInterrupted, appErr.ErrGenerationInterrupted.Error()
	case resp.Escalation != nil && !resp.Escalation.Delivered:
		return errcode.ErrDegradedEscalation, appErr.ErrDegradedEscalation.Error()
	default:
		return 0, ""
	}
}

func writeEvent(w gin.ResponseWriter, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func publicErrorMessage(err error) string {
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		return "invalid request"
	case errors.Is(err, appErr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return "not found"
	case errors.Is(err, appErr.ErrAIUnavailable):
		return "assistant unavailable"
	default:
		return "internal error"
	}
}

func orEmpty(in []model.Citation) []model.Citation {
	if in == nil {
		return []model.Citation{}
	}
	return in
}
