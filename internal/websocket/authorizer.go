package websocket

import (
	"context"
	"strings"
)

// RoomAuthorizer decides whether a user may join a chat room. Membership is
// checked against the chat store on every join.
type RoomAuthorizer struct {
	chats ChatStore
}

func NewRoomAuthorizer(chats ChatStore) *RoomAuthorizer {
	return &RoomAuthorizer{chats: chats}
}

func (a *RoomAuthorizer) CanJoin(ctx context.Context, userID, chatID string) (bool, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || userID == "" {
		return false, nil
	}
	return a.chats.IsParticipant(ctx, chatID, userID)
}
