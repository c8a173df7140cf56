package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/navigator/internal/pkg/response"
	"github.com/calderhq/navigator/internal/service"
)

type ConversationHandler struct {
	chat       *service.ChatService
	escalation *service.EscalationService
}

func NewConversationHandler(chat *service.ChatService, escalation *service.EscalationService) *ConversationHandler {
	return &ConversationHandler{chat: chat, escalation: escalation}
}

// Turns returns the persisted transcript of one conversation.
func (h *ConversationHandler) Turns(c *gin.Context) {
	limit := parseUint(c.Query("limit"), 100)
	offset := parseUint(c.Query("offset"), 0)
	turns, err := h.chat.Turns(c.Request.Context(), c.Param("id"), getUserID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"turns": turns})
}

// CloseEscalation resolves the open escalation for a conversation once the
// support agent has handled the ticket, returning it to the active state.
func (h *ConversationHandler) CloseEscalation(c *gin.Context) {
	rec, err := h.escalation.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"escalation": rec})
}

func parseUint(raw string, fallback uint) uint {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return uint(v)
}
