package services

import (
	"context"

	"netyora-chat/internal/domain/chat"
)

// views projects chats for caller: participant summaries with online status
// and the caller's unread count. Users are fetched once for the whole page.
func (s *ChatService) views(ctx context.Context, caller string, chats []chat.Chat) ([]chat.View, error) {
	var ids []string
	for i := range chats {
		ids = append(ids, chats[i].Participants...)
	}
	users, err := s.users.GetByIDs(ctx, chat.NormalizeParticipants(ids...))
	if err != nil {
		return nil, err
	}

	out := make([]chat.View, 0, len(chats))
	for i := range chats {
		c := &chats[i]
		unread, err := s.unreadCount(ctx, c, caller)
		if err != nil {
			return nil, err
		}

		participants := make([]chat.ParticipantView, 0, len(c.Participants))
		for _, id := range c.Participants {
			pv := chat.ParticipantView{ID: id, DisplayName: id, OnlineStatus: "offline"}
			if u, ok := users[id]; ok {
				pv.DisplayName = u.DisplayName
				pv.AvatarURL = u.AvatarURL
			}
			if s.presence != nil {
				pv.OnlineStatus = s.presence.OnlineStatus(id)
			}
			participants = append(participants, pv)
		}

		readBy := []string(c.ReadBy)
		if readBy == nil {
			readBy = []string{}
		}
		out = append(out, chat.View{
			ID:                 c.ID,
			Kind:               c.Kind,
			Title:              c.Title,
			AvatarURL:          c.AvatarURL,
			CommunityID:        c.CommunityID,
			Participants:       participants,
			LastMessagePreview: c.LastMessagePreview,
			ReadBy:             readBy,
			UnreadCount:        unread,
			CreatedAt:          c.CreatedAt,
			UpdatedAt:          c.UpdatedAt,
		})
	}
	return out, nil
}
