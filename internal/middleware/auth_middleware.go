package middleware

import (
	"strings"

	"netyora-chat/internal/services"
	netyora_errors "netyora-chat/pkg/errors"
	"netyora-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware resolves the bearer credential to a user id and stores it
// on the request context.
func AuthMiddleware(identity services.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := identity.Verify(extractBearer(c))
		if err != nil || userID == "" {
			_ = c.Error(netyora_errors.ErrUnauthenticated)
			c.Abort()
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID)
		ctx = logger.WithUserID(ctx, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
