package httpdto

import "netyora-chat/internal/domain/chat"

// CreateChatRequest opens a personal chat when Kind is empty or "personal",
// otherwise a group or community chat.
type CreateChatRequest struct {
	Kind         string   `json:"kind"`
	Recipient    string   `json:"recipient"`
	Participants []string `json:"participants"`
	Title        string   `json:"title"`
	Avatar       string   `json:"avatar"`
	CommunityID  string   `json:"communityId"`
}

type UpdateChatRequest struct {
	Title              *string  `json:"title"`
	Avatar             *string  `json:"avatar"`
	AddParticipants    []string `json:"addParticipants"`
	RemoveParticipants []string `json:"removeParticipants"`
}

type CreateChatResponse struct {
	Chat    chat.View `json:"chat"`
	Created bool      `json:"created"`
}

type UnreadResponse struct {
	ChatID string `json:"chatId"`
	Unread int64  `json:"unread"`
}
