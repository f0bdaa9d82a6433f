package middleware

import (
	"context"
	"strconv"

	"netyora-chat/internal/redis"
	"netyora-chat/internal/services"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Limiter is satisfied by redis.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, action redis.Action, subject string) (*redis.RateLimitResult, error)
}

// RateLimitMiddleware applies the action quota to the authenticated caller.
// It must run after AuthMiddleware. A nil limiter disables it.
func RateLimitMiddleware(limiter Limiter, action redis.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), action, userID)
		if err != nil {
			_ = c.Error(netyora_errors.Upstream("rate limiter", err))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			_ = c.Error(netyora_errors.ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
