package services

import (
	"context"

	"netyora-chat/pkg/logger"
)

// WithUserContext stores the authenticated user id on ctx.
func WithUserContext(ctx context.Context, userID string) context.Context {
	return logger.WithUserID(ctx, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(logger.UserIdKey).(string)
	return id, ok && id != ""
}
