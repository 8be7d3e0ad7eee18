package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/padhai/ragserver/internal/middleware"
	appErr "github.com/padhai/ragserver/internal/pkg/errors"
	"github.com/padhai/ragserver/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

// handleError maps the pipeline error taxonomy onto HTTP statuses. Upstream
// provider failures (embedding, generation) surface as 502 so clients can
// distinguish "retry later" from "fix your request".
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, http.StatusForbidden, "forbidden", "folder is outside your scope")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, http.StatusBadRequest, "invalid", err.Error())
	case errors.Is(err, appErr.ErrExtraction):
		response.Error(c, http.StatusBadRequest, "extraction_failed", err.Error())
	case errors.Is(err, appErr.ErrEmbedding):
		response.Error(c, http.StatusBadGateway, "embedding_failed", "embedding provider failed")
	case errors.Is(err, appErr.ErrGeneration):
		response.Error(c, http.StatusBadGateway, "generation_failed", "generation provider failed")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, http.StatusTooManyRequests, "too_many_requests", "too many requests")
	default:
		response.Error(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
