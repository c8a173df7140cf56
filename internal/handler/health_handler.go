package handler

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/navigator/internal/pkg/response"
)

type HealthHandler struct {
	db          *sql.DB
	environment string
	aiProvider  string
}

func NewHealthHandler(db *sql.DB, environment string, aiProvider string) *HealthHandler {
	return &HealthHandler{db: db, environment: environment, aiProvider: aiProvider}
}

func (h *HealthHandler) Check(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"status":      "ok",
		"service":     "navigator",
		"environment": h.environment,
		"ai_provider": h.aiProvider,
	})
}
