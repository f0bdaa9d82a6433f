package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/events"
	"netyora-chat/internal/metrics"
	"netyora-chat/internal/notify"
	"netyora-chat/internal/repository"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	videoTokenTTL     = time.Hour
	videoTokenTimeout = 5 * time.Second
)

// TokenIssuer mints access tokens for a video room.
type TokenIssuer interface {
	Issue(ctx context.Context, userID, displayName, roomID string, ttl time.Duration) (string, error)
}

// VideoSession is what a caller needs to enter a room.
type VideoSession struct {
	ChatID     string           `json:"chatId"`
	RoomID     string           `json:"roomId"`
	Token      string           `json:"token"`
	JoinURL    string           `json:"joinUrl"`
	Invitation chat.MessageView `json:"invitation"`
}

type VideoService struct {
	chats       *ChatService
	users       repository.UserRepository
	swaps       repository.SwapRepository
	tokens      TokenIssuer
	notifier    *notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger
	frontendURL string
	timeout     time.Duration
}

func NewVideoService(chats *ChatService, users repository.UserRepository, swaps repository.SwapRepository, tokens TokenIssuer, sink notify.Sink, frontendURL string, logger *zap.Logger) *VideoService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoService{
		chats:       chats,
		users:       users,
		swaps:       swaps,
		tokens:      tokens,
		notifier:    newNotifier(sink, logger),
		logger:      logger,
		frontendURL: frontendURL,
		timeout:     videoTokenTimeout,
	}
}

func (s *VideoService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	s.notifier.metrics = m
}

// SetTokenTimeout overrides how long token issuance may take.
func (s *VideoService) SetTokenTimeout(d time.Duration) { s.timeout = d }

func (s *VideoService) joinURL(roomID string) string {
	return s.frontendURL + "/video-call/" + roomID
}

func (s *VideoService) displayName(ctx context.Context, userID string) string {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return userID
	}
	return u.DisplayName
}

func (s *VideoService) issueToken(ctx context.Context, userID, name, roomID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	token, err := s.tokens.Issue(ctx, userID, name, roomID, videoTokenTTL)
	s.metrics.ExternalCall("video_token", "issue", time.Since(start), err)
	if err != nil {
		return "", netyora_errors.Upstream("video token issuer", err)
	}
	return token, nil
}

// StartInvitationForChat opens a new room for the chat. The invitation and a
// joinedVideo message for the caller are appended only once a token is issued.
func (s *VideoService) StartInvitationForChat(ctx context.Context, chatID, caller string) (VideoSession, error) {
	if err := s.chats.requireMember(ctx, chatID, caller); err != nil {
		return VideoSession{}, err
	}
	return s.start(ctx, chatID, caller, uuid.NewString(), "")
}

// StartInvitationForSwap opens the swap's room in the personal chat between
// its two parties. The room id is the swap id.
func (s *VideoService) StartInvitationForSwap(ctx context.Context, swapID, caller string) (VideoSession, error) {
	sw, err := s.swaps.GetByID(ctx, swapID)
	if err != nil {
		return VideoSession{}, err
	}
	requester, owner := sw.Parties()
	peer := ""
	switch caller {
	case requester:
		peer = owner
	case owner:
		peer = requester
	default:
		return VideoSession{}, fmt.Errorf("%w: not a party of this swap", netyora_errors.ErrForbidden)
	}

	c, _, err := s.chats.OpenOrFindPersonalChat(ctx, caller, peer)
	if err != nil {
		return VideoSession{}, err
	}
	return s.start(ctx, c.ID, caller, swapID, swapID)
}

func (s *VideoService) start(ctx context.Context, chatID, caller, roomID, swapID string) (VideoSession, error) {
	name := s.displayName(ctx, caller)
	token, err := s.issueToken(ctx, caller, name, roomID)
	if err != nil {
		return VideoSession{}, err
	}

	session := VideoSession{ChatID: chatID, RoomID: roomID, Token: token, JoinURL: s.joinURL(roomID)}
	var (
		participants []string
		created      bool
	)
	err = s.chats.Mutate(ctx, chatID, func(m *Mutation) error {
		c := m.Chat()
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}

		invs, err := s.invitations(m, roomID)
		if err != nil {
			return err
		}
		// an active room with this id is joined rather than reopened
		if active := activeInvitation(invs); active != nil {
			view, err := s.join(m, active, caller, name)
			session.Invitation = view
			return err
		}

		inv := chat.Invitation{
			RoomID:          roomID,
			Status:          chat.InvitationActive,
			JoinURL:         session.JoinURL,
			CreatedBy:       caller,
			MaxParticipants: max(len(c.Participants), 2),
			SwapID:          swapID,
			Participants:    []string{caller},
			CreatedAt:       m.Now(),
		}
		msg, err := m.Append(caller, chat.MessagePayload{Kind: chat.MessageVideoInvitation, Invitation: &inv})
		if err != nil {
			return err
		}
		if _, err := m.Append(caller, systemPayload(chat.ActionJoinedVideo, roomID, caller, name)); err != nil {
			return err
		}
		session.Invitation = msg.View()
		participants = append([]string{}, c.Participants...)
		created = true
		return nil
	})
	if err != nil {
		return VideoSession{}, err
	}

	if created {
		s.metrics.InvitationTransition(string(chat.InvitationActive))
		s.notifier.send(ctx, fanOut(participants, caller, notify.Notification{
			Type:         notify.TypeVideoCall,
			ResourceType: "chat",
			ResourceID:   chatID,
			Title:        "Incoming video call",
			Message:      name + " started a video call",
			Metadata:     map[string]string{"roomId": roomID, "status": string(chat.InvitationActive), "joinUrl": session.JoinURL},
		}))
	}
	return session, nil
}

// Join issues a token for an active room and records the caller as present.
func (s *VideoService) Join(ctx context.Context, chatID, caller, roomID string) (VideoSession, error) {
	if err := s.chats.requireMember(ctx, chatID, caller); err != nil {
		return VideoSession{}, err
	}
	name := s.displayName(ctx, caller)
	token, err := s.issueToken(ctx, caller, name, roomID)
	if err != nil {
		return VideoSession{}, err
	}

	session := VideoSession{ChatID: chatID, RoomID: roomID, Token: token, JoinURL: s.joinURL(roomID)}
	err = s.chats.Mutate(ctx, chatID, func(m *Mutation) error {
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}
		invs, err := s.invitations(m, roomID)
		if err != nil {
			return err
		}
		active := activeInvitation(invs)
		if active == nil {
			return netyora_errors.ErrInvitationInactive
		}
		session.Invitation, err = s.join(m, active, caller, name)
		return err
	})
	if err != nil {
		return VideoSession{}, err
	}
	return session, nil
}

func (s *VideoService) join(m *Mutation, msg *chat.Message, caller, name string) (chat.MessageView, error) {
	inv := *msg.Invitation
	if !inv.AddParticipant(caller) {
		return msg.View(), nil
	}
	if err := s.rewrite(m, msg, inv); err != nil {
		return chat.MessageView{}, err
	}
	_, err := m.Append(caller, systemPayload(chat.ActionJoinedVideo, inv.RoomID, caller, name))
	return msg.View(), err
}

// Cancel moves every active invitation for roomID to cancelled. Cancelling
// again changes nothing.
func (s *VideoService) Cancel(ctx context.Context, chatID, caller, roomID string) error {
	return s.closeRoom(ctx, chatID, caller, roomID, chat.InvitationCancelled, chat.ActionCancelledVideo)
}

func (s *VideoService) End(ctx context.Context, chatID, caller, roomID string) error {
	return s.closeRoom(ctx, chatID, caller, roomID, chat.InvitationEnded, chat.ActionCallEnded)
}

// Timeout closes an unanswered room. caller is empty when a server timer fires.
func (s *VideoService) Timeout(ctx context.Context, chatID, caller, roomID string) error {
	return s.closeRoom(ctx, chatID, caller, roomID, chat.InvitationTimedOut, chat.ActionTimedOut)
}

func (s *VideoService) closeRoom(ctx context.Context, chatID, caller, roomID string, to chat.InvitationStatus, action chat.SystemAction) error {
	if caller != "" {
		if err := s.chats.requireMember(ctx, chatID, caller); err != nil {
			return err
		}
	}
	name := ""
	if caller != "" {
		name = s.displayName(ctx, caller)
	}

	var participants []string
	changed := false
	err := s.chats.Mutate(ctx, chatID, func(m *Mutation) error {
		if caller != "" {
			if err := m.RequireParticipant(caller); err != nil {
				return err
			}
		}
		invs, err := s.invitations(m, roomID)
		if err != nil {
			return err
		}
		var closedBy string
		for i := range invs {
			inv := *invs[i].Invitation
			if !inv.Transition(to, m.Now()) {
				continue
			}
			if err := s.rewrite(m, &invs[i], inv); err != nil {
				return err
			}
			changed = true
			closedBy = inv.CreatedBy
		}
		if !changed {
			return nil
		}

		sender := caller
		if sender == "" {
			sender = systemSender(m.Chat(), closedBy)
		}
		if _, err := m.Append(sender, systemPayload(action, roomID, caller, name)); err != nil {
			return err
		}
		participants = append([]string{}, m.Chat().Participants...)
		return nil
	})
	if err != nil || !changed {
		return err
	}

	s.transitioned(ctx, chatID, participants, to, chat.SystemMeta{Action: action, RoomID: roomID, ActorID: caller, ActorName: name})
	return nil
}

// transitioned records an invitation moving to status and tells every
// participant except the actor.
func (s *VideoService) transitioned(ctx context.Context, chatID string, participants []string, status chat.InvitationStatus, meta chat.SystemMeta) {
	s.metrics.InvitationTransition(string(status))
	s.notifier.send(ctx, fanOut(participants, meta.ActorID, notify.Notification{
		Type:         notify.TypeVideoCall,
		ResourceType: "chat",
		ResourceID:   chatID,
		Title:        "Video call",
		Message:      meta.Text(),
		Metadata:     map[string]string{"roomId": meta.RoomID, "status": string(status)},
	}))
}

// OnParticipantLeft records userID leaving the room. The last one out ends
// the invitation.
func (s *VideoService) OnParticipantLeft(ctx context.Context, chatID, roomID, userID string) error {
	name := s.displayName(ctx, userID)
	ended := false
	var participants []string
	err := s.chats.Mutate(ctx, chatID, func(m *Mutation) error {
		invs, err := s.invitations(m, roomID)
		if err != nil {
			return err
		}
		active := activeInvitation(invs)
		if active == nil {
			return nil
		}
		inv := *active.Invitation
		if !inv.RemoveParticipant(userID) {
			return nil
		}
		if len(inv.Participants) == 0 {
			ended = inv.Transition(chat.InvitationEnded, m.Now())
			participants = append([]string{}, m.Chat().Participants...)
		}
		if err := s.rewrite(m, active, inv); err != nil {
			return err
		}
		if !m.Chat().HasParticipant(userID) {
			return nil
		}
		_, err = m.Append(userID, systemPayload(chat.ActionLeftVideo, roomID, userID, name))
		return err
	})
	if err != nil || !ended {
		return err
	}
	s.transitioned(ctx, chatID, participants, chat.InvitationEnded,
		chat.SystemMeta{Action: chat.ActionCallEnded, RoomID: roomID, ActorID: userID, ActorName: name})
	return nil
}

// invitations loads the room's invitation messages. Legacy messages with an
// unknown kind are purged once and the scan retried; a second failure is
// reported as data corruption.
func (s *VideoService) invitations(m *Mutation, roomID string) ([]chat.Message, error) {
	invs, err := m.Tx().Invitations(roomID)
	if err == nil || !errors.Is(err, netyora_errors.ErrDataCorruption) {
		return invs, err
	}

	purged, purgeErr := m.Tx().PurgeInvalidMessages()
	if purgeErr != nil {
		return nil, fmt.Errorf("%w: cleanup failed: %v", netyora_errors.ErrDataCorruption, purgeErr)
	}
	s.logger.Warn("Purged messages with unknown kind",
		zap.String("chat_id", m.Chat().ID),
		zap.Int64("purged", purged),
	)
	if err := m.RefreshPreview(); err != nil {
		return nil, err
	}
	return m.Tx().Invitations(roomID)
}

// rewrite stores inv in msg, updating content and invitation data together.
func (s *VideoService) rewrite(m *Mutation, msg *chat.Message, inv chat.Invitation) error {
	if err := msg.SetInvitation(inv); err != nil {
		return err
	}
	if err := m.Tx().SaveMessage(msg); err != nil {
		return err
	}
	return m.EmitToRoom(events.TypeMessageEdited, msg.View())
}

func activeInvitation(invs []chat.Message) *chat.Message {
	for i := len(invs) - 1; i >= 0; i-- {
		if invs[i].Invitation != nil && invs[i].Invitation.Status == chat.InvitationActive {
			return &invs[i]
		}
	}
	return nil
}

func systemPayload(action chat.SystemAction, roomID, actorID, actorName string) chat.MessagePayload {
	return chat.MessagePayload{
		Kind:   chat.MessageSystem,
		System: &chat.SystemMeta{Action: action, RoomID: roomID, ActorID: actorID, ActorName: actorName},
	}
}

// systemSender picks who a server-initiated system message is attributed to.
func systemSender(c *chat.Chat, preferred string) string {
	if c.HasParticipant(preferred) || len(c.Participants) == 0 {
		return preferred
	}
	return c.Participants[0]
}
