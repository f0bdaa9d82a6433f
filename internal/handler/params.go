package handler

import (
	"fmt"
	"strconv"
	"strings"

	"netyora-chat/internal/services"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// callerID returns the authenticated user. It records ErrUnauthenticated on c
// when there is none.
func callerID(c *gin.Context) (string, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		_ = c.Error(netyora_errors.ErrUnauthenticated)
		return "", false
	}
	return userID, true
}

func pathParam(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		_ = c.Error(fmt.Errorf("%w: missing %s", netyora_errors.ErrInvalidArgument, name))
		return "", false
	}
	return value, true
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseLimit(c *gin.Context) (int, bool) {
	limit, err := parseInt(c.Query("limit"))
	if err != nil || limit < 0 {
		_ = c.Error(fmt.Errorf("%w: invalid limit", netyora_errors.ErrInvalidArgument))
		return 0, false
	}
	return limit, true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(fmt.Errorf("%w: invalid request body", netyora_errors.ErrInvalidArgument))
		return false
	}
	return true
}
