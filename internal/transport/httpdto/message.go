package httpdto

import "netyora-chat/internal/domain/chat"

// SendMessageRequest carries a text message, or starts a video invitation
// when Kind is "videoInvitation".
type SendMessageRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type MessagesResponse struct {
	Messages []chat.MessageView `json:"messages"`
}
