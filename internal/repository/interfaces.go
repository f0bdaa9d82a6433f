package repository

import (
	"context"
	"time"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/domain/swap"
	"netyora-chat/internal/domain/user"
)

// ListChatsQuery selects a page of a user's chats, newest activity first.
type ListChatsQuery struct {
	UserID string
	Cursor string
	Limit  int
	Search string
}

type ChatRepository interface {
	GetChat(ctx context.Context, chatID string) (chat.Chat, error)
	FindPersonal(ctx context.Context, a, b string) (chat.Chat, error)
	CreateChat(ctx context.Context, c *chat.Chat) error
	ListForUser(ctx context.Context, q ListChatsQuery) ([]chat.Chat, error)
	GetParticipant(ctx context.Context, chatID, userID string) (chat.Participant, error)

	GetMessage(ctx context.Context, chatID, messageID string) (chat.Message, error)
	// ListMessages returns up to limit visible messages with seq < beforeSeq
	// (newest when beforeSeq is 0), oldest first.
	ListMessages(ctx context.Context, chatID string, beforeSeq int64, limit int) ([]chat.Message, error)
	CountUnread(ctx context.Context, chatID, userID string, afterSeq int64) (int64, error)

	// ChatsWithExpiredAttachments lists chats holding attachments with
	// expires_at <= now that are not yet deleted.
	ChatsWithExpiredAttachments(ctx context.Context, now time.Time) ([]string, error)

	// InChatTx runs fn in a transaction holding the chat row lock.
	InChatTx(ctx context.Context, chatID string, fn func(tx ChatTx) error) error
}

// ChatTx is the set of mutations available while a chat is locked.
type ChatTx interface {
	Chat() *chat.Chat
	SaveChat() error

	InsertMessage(m *chat.Message) error
	SaveMessage(m *chat.Message) error
	HardDeleteMessage(messageID string) error
	GetMessage(messageID string) (chat.Message, error)
	LatestMessage() (chat.Message, bool, error)
	Invitations(roomID string) ([]chat.Message, error)
	ExpiredAttachments(now time.Time) ([]chat.Message, error)
	PurgeInvalidMessages() (int64, error)

	AddParticipants(userIDs []string, at time.Time) error
	RemoveParticipant(userID string) error
	SetHidden(userID string, at *time.Time) error
	UnhideAll() error
	MarkParticipantRead(userID string, seq int64) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]user.User, error)
}

type SwapRepository interface {
	GetByID(ctx context.Context, id string) (swap.Swap, error)
}
