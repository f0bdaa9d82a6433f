package websocket

// Events a client may send.
const (
	eventAuthenticate        = "authenticate"
	eventUpdateStatus        = "updateStatus"
	eventJoinChat            = "joinChat"
	eventLeaveChat           = "leaveChat"
	eventSendMessage         = "sendMessage"
	eventTyping              = "typing"
	eventStartVoiceRecording = "startVoiceRecording"
	eventStopVoiceRecording  = "stopVoiceRecording"
	eventSendVoiceMessage    = "sendVoiceMessage"
	eventVoiceMessagePlayed  = "voiceMessagePlayed"
)

type authenticateData struct {
	Status string `json:"status,omitempty"`
}

type updateStatusData struct {
	Status string `json:"status"`
}

type chatData struct {
	ChatID string `json:"chatId"`
}

type sendMessageData struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

type typingData struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// sendVoiceData carries an already uploaded recording: msg is its URL and
// duration is in seconds.
type sendVoiceData struct {
	ChatID   string  `json:"chatId"`
	Msg      string  `json:"msg"`
	Duration float64 `json:"duration"`
	FileSize int64   `json:"fileSize,omitempty"`
}

type voicePlayedData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}
