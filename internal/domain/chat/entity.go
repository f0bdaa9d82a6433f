package chat

import (
	"slices"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindPersonal  Kind = "personal"
	KindGroup     Kind = "group"
	KindCommunity Kind = "community"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPersonal, KindGroup, KindCommunity:
		return true
	}
	return false
}

// Chat represents the chats table
type Chat struct {
	ID                 string    `gorm:"primaryKey;type:varchar(36)"`
	Kind               Kind      `gorm:"type:varchar(16);not null;index"`
	Title              string    `gorm:"type:varchar(255)"`
	AvatarURL          string    `gorm:"type:text"`
	CommunityID        string    `gorm:"type:varchar(64);index"`
	CreatedBy          string    `gorm:"type:varchar(64)"`
	PairKey            string    `gorm:"type:varchar(160);index:idx_chats_personal_pair,unique,where:kind = 'personal'"`
	ReadBy             UserSet   `gorm:"type:text;serializer:json"`
	LastMessagePreview string    `gorm:"type:text"`
	LastSeq            int64     `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null;index;autoUpdateTime:false"`

	// Loaded from chat_participants.
	Participants []string `gorm:"-"`
}

func (Chat) TableName() string { return "chats" }

func (c *Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// Peer returns the other participant of a personal chat.
func (c *Chat) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Participant represents the chat_participants table
type Participant struct {
	ChatID      string     `gorm:"primaryKey;type:varchar(36)"`
	UserID      string     `gorm:"primaryKey;type:varchar(64);index"`
	JoinedAt    time.Time  `gorm:"not null"`
	LastReadSeq int64      `gorm:"not null;default:0"`
	HiddenAt    *time.Time `gorm:"index"`
}

func (Participant) TableName() string { return "chat_participants" }

// PairKey is the uniqueness key of a personal chat between a and b.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// NormalizeParticipants trims, drops empties and removes duplicates, keeping first-seen order.
func NormalizeParticipants(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UserSet is an insertion-ordered set of user ids stored as a JSON array.
type UserSet []string

func (s UserSet) Contains(userID string) bool {
	return slices.Contains(s, userID)
}

// Add returns the set with userID appended and whether it changed.
func (s UserSet) Add(userID string) (UserSet, bool) {
	if s.Contains(userID) {
		return s, false
	}
	return append(s, userID), true
}

// ParticipantView is the projection returned by listing endpoints.
type ParticipantView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	OnlineStatus string `json:"onlineStatus"`
}

// View is the wire representation of a chat for one caller.
type View struct {
	ID                 string            `json:"id"`
	Kind               Kind              `json:"kind"`
	Title              string            `json:"title,omitempty"`
	AvatarURL          string            `json:"avatarUrl,omitempty"`
	CommunityID        string            `json:"communityId,omitempty"`
	Participants       []ParticipantView `json:"participants"`
	LastMessagePreview string            `json:"lastMessagePreview"`
	ReadBy             []string          `json:"readBy"`
	UnreadCount        int64             `json:"unreadCount"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}
