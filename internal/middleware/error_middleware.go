package middleware

import (
	"net/http"

	"netyora-chat/internal/transport/httpdto"
	"netyora-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error recorded by a handler as the response
// envelope. Responses already written are left alone.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, resp := httpdto.NewErrorResponseFor(err, c.Writer.Header().Get(RequestIDHeader))
		if l != nil {
			log := l.WithContext(c.Request.Context())
			if status >= http.StatusInternalServerError {
				log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			} else {
				log.Debug("request rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			}
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(status, resp)
	}
}
