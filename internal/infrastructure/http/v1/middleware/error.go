package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orseries/internal/core/apperror"
	"orseries/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Internal causes are logged and never sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		// Response already written by the handler.
		if c.Writer.Written() {
			return
		}

		writeError(c, err)
	}
}

// writeError renders err as JSON and records it against the idempotency key.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var body gin.H

	if appErr, ok := apperror.AsAppError(err); ok {
		if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request error",
				"code", appErr.Code,
				"cause", appErr.Err,
			)
		}
		status = appErr.HTTPStatus
		body = gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		}
	} else {
		logger.Error(c.Request.Context(), "unhandled error", "error", err)
		body = gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{
				"request_id": c.GetString("request_id"),
			},
		}
	}

	failIdempotency(c, err, status, body)
	c.JSON(status, body)
}

// failIdempotency stores a deterministic error response for replay and
// releases the key after a transient one. Best effort.
func failIdempotency(c *gin.Context, cause error, status int, body any) {
	key, store, ok := idempotencyFrom(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if apperror.IsTransient(cause) {
		if err := store.ReleaseKey(ctx, key); err != nil {
			logger.Warn(ctx, "release idempotency key", "key", key, "error", err)
		}
		return
	}
	if err := store.FailKey(ctx, key, status, "application/json", body); err != nil {
		logger.Warn(ctx, "store idempotent failure", "key", key, "error", err)
	}
}
