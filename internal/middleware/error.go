package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/canopy-portal/internal/handler"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
)

// ErrorHandler logs the errors handlers attached to the context, and writes
// a response for any error that was attached without one.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			code := apperrors.CodeOf(e.Err)
			event := log.Warn()
			if code == apperrors.ErrInternal || code == apperrors.ErrTransient {
				event = log.Error()
			}
			event.
				Err(e.Err).
				Int("code", int(code)).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}

		if !c.Writer.Written() {
			lastErr := c.Errors.Last().Err
			c.JSON(apperrors.HTTPStatus(lastErr), handler.NewNoticeResponse(lastErr))
		}
	}
}
