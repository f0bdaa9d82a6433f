package chat

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	netyora_errors "netyora-chat/pkg/errors"
)

const (
	MaxTextRunes    = 5000
	MaxPreviewRunes = 120
)

// AttachmentInput is the blob-store result an attachment message is built from.
type AttachmentInput struct {
	URL       string
	FileName  string
	FileSize  int64
	MimeType  string
	PublicID  string
	ExpiresAt *time.Time
}

type VoiceInput struct {
	URL        string
	DurationMs int64
	FileSize   int64
}

// MessagePayload is what a sender asks the chat store to append.
type MessagePayload struct {
	Kind       MessageKind
	Content    string
	Attachment *AttachmentInput
	Voice      *VoiceInput
	Invitation *Invitation
	System     *SystemMeta
}

func TextPayload(content string) MessagePayload {
	return MessagePayload{Kind: MessageText, Content: content}
}

// Validate applies the per-kind structural rules.
func (p MessagePayload) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown message kind %q", netyora_errors.ErrInvalidArgument, p.Kind)
	}
	switch {
	case p.Kind == MessageText:
		if strings.TrimSpace(p.Content) == "" {
			return netyora_errors.ErrEmptyContent
		}
		if utf8.RuneCountInString(p.Content) > MaxTextRunes {
			return fmt.Errorf("%w: content exceeds %d characters", netyora_errors.ErrInvalidArgument, MaxTextRunes)
		}
	case p.Kind.IsAttachment():
		return validateAttachment(p.Attachment)
	case p.Kind == MessageVoice:
		if p.Voice == nil {
			return netyora_errors.Structural("voice")
		}
		if p.Voice.URL == "" {
			return netyora_errors.Structural("url")
		}
		if p.Voice.DurationMs < 0 {
			return fmt.Errorf("%w: duration must not be negative", netyora_errors.ErrInvalidArgument)
		}
	case p.Kind == MessageVideoInvitation:
		inv := p.Invitation
		if inv == nil {
			return netyora_errors.Structural("invitationData")
		}
		if inv.RoomID == "" {
			return netyora_errors.Structural("roomId")
		}
		if inv.JoinURL == "" {
			return netyora_errors.Structural("joinUrl")
		}
		if inv.CreatedBy == "" {
			return netyora_errors.Structural("createdBy")
		}
	case p.Kind == MessageSystem:
		if p.System == nil {
			return netyora_errors.Structural("systemMeta")
		}
		if !p.System.Action.Valid() {
			return fmt.Errorf("%w: unknown system action %q", netyora_errors.ErrInvalidArgument, p.System.Action)
		}
	}
	return nil
}

func validateAttachment(a *AttachmentInput) error {
	switch {
	case a == nil:
		return netyora_errors.Structural("attachment")
	case a.URL == "":
		return netyora_errors.Structural("url")
	case a.FileName == "":
		return netyora_errors.Structural("fileName")
	case a.FileSize <= 0:
		return netyora_errors.Structural("fileSize")
	case a.MimeType == "":
		return netyora_errors.Structural("mimeType")
	case a.PublicID == "":
		return netyora_errors.Structural("publicId")
	}
	return nil
}

// Apply copies the payload onto a fresh message row.
func (p MessagePayload) Apply(m *Message) error {
	m.Kind = p.Kind
	m.Content = p.Content
	switch {
	case p.Kind.IsAttachment():
		a := p.Attachment
		m.URL, m.FileName, m.FileSize, m.MimeType, m.PublicID = a.URL, a.FileName, a.FileSize, a.MimeType, a.PublicID
		m.ExpiresAt = a.ExpiresAt
		if m.ExpiresAt == nil {
			if at, ok := ExpiryFor(p.Kind, m.Timestamp); ok {
				m.ExpiresAt = &at
			}
		}
		m.DownloadedBy = UserSet{}
	case p.Kind == MessageVoice:
		m.URL, m.DurationMs, m.FileSize = p.Voice.URL, p.Voice.DurationMs, p.Voice.FileSize
	case p.Kind == MessageVideoInvitation:
		return m.SetInvitation(*p.Invitation)
	case p.Kind == MessageSystem:
		meta := *p.System
		m.System = &meta
		if m.Content == "" {
			m.Content = meta.Text()
		}
	}
	return nil
}

// Preview summarizes a message for the chat list.
func Preview(m *Message) string {
	switch m.Kind {
	case MessageText:
		return truncateRunes(m.Content, MaxPreviewRunes)
	case MessageImage:
		return "Image sent"
	case MessagePDF:
		return "PDF sent"
	case MessageDocument:
		return "Document sent"
	case MessageFile:
		return "File sent"
	case MessageVoice:
		return "Voice message"
	case MessageVideoInvitation:
		return "Video call invitation sent"
	case MessageSystem:
		if m.Content != "" {
			return m.Content
		}
		if m.System != nil {
			return m.System.Text()
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// SanitizeText trims s and strips control characters other than newline and tab.
func SanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// SanitizeFileName reduces a client-supplied name to a safe base name.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = SanitizeText(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// KindForMime picks the attachment kind for an uploaded content type.
func KindForMime(mimeType string) MessageKind {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return MessageImage
	case mt == "application/pdf":
		return MessagePDF
	case mt == "application/msword",
		mt == "application/rtf",
		mt == "text/plain",
		mt == "text/csv",
		strings.HasPrefix(mt, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(mt, "application/vnd.ms-"),
		strings.HasPrefix(mt, "application/vnd.oasis.opendocument"):
		return MessageDocument
	}
	return MessageFile
}
