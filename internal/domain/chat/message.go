package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageKind string

const (
	MessageText            MessageKind = "text"
	MessageFile            MessageKind = "file"
	MessageImage           MessageKind = "image"
	MessagePDF             MessageKind = "pdf"
	MessageDocument        MessageKind = "document"
	MessageVoice           MessageKind = "voice"
	MessageVideoInvitation MessageKind = "videoInvitation"
	MessageSystem          MessageKind = "system"
)

// Valid reports whether k is one of the accepted message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageFile, MessageImage, MessagePDF, MessageDocument,
		MessageVoice, MessageVideoInvitation, MessageSystem:
		return true
	}
	return false
}

// IsAttachment reports whether messages of this kind carry an ephemeral attachment.
func (k MessageKind) IsAttachment() bool {
	switch k {
	case MessageFile, MessageImage, MessagePDF, MessageDocument:
		return true
	}
	return false
}

const (
	ImageRetention      = 7 * 24 * time.Hour
	AttachmentRetention = 30 * 24 * time.Hour
)

// ExpiryFor returns when an attachment of kind k created at createdAt expires.
// Kinds without an attachment never expire.
func ExpiryFor(k MessageKind, createdAt time.Time) (time.Time, bool) {
	switch {
	case k == MessageImage:
		return createdAt.Add(ImageRetention), true
	case k.IsAttachment():
		return createdAt.Add(AttachmentRetention), true
	}
	return time.Time{}, false
}

// Message represents the chat_messages table. Kind selects which of the
// variant columns are meaningful.
type Message struct {
	ID        string      `gorm:"primaryKey;type:varchar(36)"`
	ChatID    string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_chat_messages_chat_seq,priority:1"`
	Seq       int64       `gorm:"not null;uniqueIndex:idx_chat_messages_chat_seq,priority:2"`
	SenderID  string      `gorm:"type:varchar(64);not null"`
	Kind      MessageKind `gorm:"type:varchar(32);not null;index"`
	Content   string      `gorm:"type:text"`
	Edited    bool        `gorm:"not null;default:false"`
	EditedAt  *time.Time
	Timestamp time.Time  `gorm:"not null"`
	RemovedAt *time.Time `gorm:"index"`

	// attachment and voice
	URL          string     `gorm:"type:text"`
	FileName     string     `gorm:"type:varchar(255)"`
	FileSize     int64      `gorm:"not null;default:0"`
	MimeType     string     `gorm:"type:varchar(128)"`
	PublicID     string     `gorm:"type:varchar(255)"`
	ExpiresAt    *time.Time `gorm:"index"`
	IsDeleted    bool       `gorm:"not null;default:false"`
	DownloadedBy UserSet    `gorm:"type:text;serializer:json"`
	DurationMs   int64      `gorm:"not null;default:0"`

	Invitation *Invitation `gorm:"type:text;serializer:json"`
	System     *SystemMeta `gorm:"type:text;serializer:json"`
}

func (Message) TableName() string { return "chat_messages" }

// Attachment carries the ephemeral file fields of an attachment message.
type Attachment struct {
	URL          string     `json:"-"`
	FileName     string     `json:"fileName"`
	FileSize     int64      `json:"fileSize"`
	MimeType     string     `json:"mimeType"`
	PublicID     string     `json:"publicId"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	IsDeleted    bool       `json:"isDeleted"`
	DownloadedBy UserSet    `json:"downloadedBy"`
}

// Voice carries the fields of a voice message.
type Voice struct {
	URL        string `json:"url"`
	DurationMs int64  `json:"durationMs"`
	FileSize   int64  `json:"fileSize"`
}

// Attachment returns the attachment variant, or nil for other kinds.
func (m *Message) Attachment() *Attachment {
	if !m.Kind.IsAttachment() {
		return nil
	}
	downloaded := m.DownloadedBy
	if downloaded == nil {
		downloaded = UserSet{}
	}
	return &Attachment{
		URL:          m.URL,
		FileName:     m.FileName,
		FileSize:     m.FileSize,
		MimeType:     m.MimeType,
		PublicID:     m.PublicID,
		ExpiresAt:    m.ExpiresAt,
		IsDeleted:    m.IsDeleted,
		DownloadedBy: downloaded,
	}
}

// Voice returns the voice variant, or nil for other kinds.
func (m *Message) Voice() *Voice {
	if m.Kind != MessageVoice {
		return nil
	}
	return &Voice{URL: m.URL, DurationMs: m.DurationMs, FileSize: m.FileSize}
}

// Expired reports whether the attachment can no longer be served at now.
func (m *Message) Expired(now time.Time) bool {
	if m.IsDeleted {
		return true
	}
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// SetInvitation rewrites the typed invitation and its serialized content together.
func (m *Message) SetInvitation(inv Invitation) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invitation: %w", err)
	}
	m.Invitation = &inv
	m.Content = string(raw)
	return nil
}

// MessageView is the wire representation of a message.
type MessageView struct {
	ID             string      `json:"id"`
	ChatID         string      `json:"chatId"`
	Seq            int64       `json:"seq"`
	Sender         string      `json:"sender"`
	Timestamp      time.Time   `json:"timestamp"`
	Kind           MessageKind `json:"kind"`
	Content        string      `json:"content,omitempty"`
	Edited         bool        `json:"edited,omitempty"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	DownloadURL    string      `json:"downloadUrl,omitempty"`
	Voice          *Voice      `json:"voice,omitempty"`
	InvitationData *Invitation `json:"invitationData,omitempty"`
	SystemMeta     *SystemMeta `json:"systemMeta,omitempty"`
}

func (m *Message) View() MessageView {
	v := MessageView{
		ID:             m.ID,
		ChatID:         m.ChatID,
		Seq:            m.Seq,
		Sender:         m.SenderID,
		Timestamp:      m.Timestamp,
		Kind:           m.Kind,
		Content:        m.Content,
		Edited:         m.Edited,
		EditedAt:       m.EditedAt,
		Attachment:     m.Attachment(),
		Voice:          m.Voice(),
		InvitationData: m.Invitation,
		SystemMeta:     m.System,
	}
	if v.Attachment != nil && !m.IsDeleted {
		v.DownloadURL = fmt.Sprintf("/chat/%s/message/%s/download", m.ChatID, m.ID)
	}
	return v
}

func Views(msgs []Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].View())
	}
	return out
}

// AcceptedKinds lists every message kind that may be written.
func AcceptedKinds() []string {
	return []string{
		string(MessageText), string(MessageFile), string(MessageImage), string(MessagePDF),
		string(MessageDocument), string(MessageVoice), string(MessageVideoInvitation), string(MessageSystem),
	}
}
