package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/middleware"
	"github.com/calderhq/navigator/internal/pkg/errcode"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func getRole(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextRoleKey)
	role, _ := value.(string)
	return role
}

func getEmail(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextEmailKey)
	email, _ := value.(string)
	return email
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err))
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrEmptyDocument):
		response.Error(c, errcode.ErrEmptyDocument, "document is empty")
	case errors.Is(err, appErr.ErrAIUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "assistant unavailable")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
