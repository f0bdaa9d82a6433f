package websocket

import (
	"context"
	"time"

	"netyora-chat/internal/events"
	"netyora-chat/internal/presence"

	"go.uber.org/zap"
)

// PresenceBroadcaster announces presence transitions to every connection.
type PresenceBroadcaster struct {
	bus    events.Bus
	logger *zap.Logger
}

func NewPresenceBroadcaster(bus events.Bus, logger *zap.Logger) *PresenceBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceBroadcaster{bus: bus, logger: logger}
}

func (b *PresenceBroadcaster) PresenceChanged(state presence.State) {
	env, err := events.ToAll(events.TypeUserOnlineStatus, presencePayload(state))
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = b.bus.Publish(ctx, env)
		cancel()
	}
	if err != nil {
		b.logger.Warn("Failed to broadcast presence", zap.String("user_id", state.UserID), zap.Error(err))
	}
}

func presencePayload(state presence.State) events.PresencePayload {
	return events.PresencePayload{
		UserID:   state.UserID,
		IsOnline: state.IsOnline,
		Status:   string(state.Status),
		LastSeen: state.LastSeen,
	}
}
