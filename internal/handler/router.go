package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/navigator/internal/middleware"
	"github.com/calderhq/navigator/internal/retrieval"
)

type RouterDeps struct {
	Chat          *ChatHandler
	Conversations *ConversationHandler
	Ingest        *IngestHandler
	Health        *HealthHandler
	JWTSecret     []byte
	ChatWindow    time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Check)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	chatGroup := authGroup.Group("")
	if deps.ChatWindow > 0 {
		chatGroup.Use(middleware.RateLimit(deps.ChatWindow))
	}
	chatGroup.POST("/conversations/:id/messages", deps.Chat.Send)

	authGroup.GET("/conversations/:id/turns", deps.Conversations.Turns)

	staffGroup := authGroup.Group("")
	staffGroup.Use(middleware.RequireRole(retrieval.RoleStaff, retrieval.RoleAdmin))
	staffGroup.POST("/ingest/documents", deps.Ingest.Ingest)
	staffGroup.POST("/conversations/:id/escalation/close", deps.Conversations.CloseEscalation)
}
