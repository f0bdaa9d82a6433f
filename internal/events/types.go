package events

import "time"

// Events emitted to realtime clients.
const (
	TypeUserOnlineStatus      = "userOnlineStatus"
	TypeMessage               = "message"
	TypeMessageEdited         = "messageEdited"
	TypeMessageDeleted        = "messageDeleted"
	TypeVoiceMessage          = "voiceMessage"
	TypeVoiceMessagePlayed    = "voiceMessagePlayed"
	TypeVoiceRecordingStarted = "voiceRecordingStarted"
	TypeVoiceRecordingStopped = "voiceRecordingStopped"
	TypeTyping                = "typing"
	TypeChatRead              = "chatRead"
	TypeJoinedChat            = "joinedChat"
	TypeLeftChat              = "leftChat"
	TypeError                 = "error"
)

type PresencePayload struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type RecordingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type VoicePlayedPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type MessageDeletedPayload struct {
	ChatID             string `json:"chatId"`
	MessageID          string `json:"messageId"`
	LastMessagePreview string `json:"lastMessagePreview"`
}

type ChatReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MembershipPayload accompanies joinedChat and leftChat.
type MembershipPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}
