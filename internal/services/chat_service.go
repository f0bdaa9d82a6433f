package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/events"
	"netyora-chat/internal/metrics"
	"netyora-chat/internal/repository"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxChatPageSize = 50
	maxMessagePage  = 100
)

// PresenceReader exposes the online status shown in participant projections.
type PresenceReader interface {
	OnlineStatus(userID string) string
}

type ChatService struct {
	repo     repository.ChatRepository
	users    repository.UserRepository
	bus      events.Bus
	presence PresenceReader
	cache    InboxCache
	metrics  *metrics.Metrics
	locks    *chatLocks
	logger   *zap.Logger
	now      func() time.Time
}

func NewChatService(repo repository.ChatRepository, users repository.UserRepository, bus events.Bus, logger *zap.Logger) *ChatService {
	if bus == nil {
		bus = events.NopBus{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		repo:   repo,
		users:  users,
		bus:    bus,
		cache:  NopInboxCache{},
		locks:  newChatLocks(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) SetPresence(p PresenceReader) { s.presence = p }

func (s *ChatService) SetInboxCache(c InboxCache) {
	if c == nil {
		c = NopInboxCache{}
	}
	s.cache = c
}

func (s *ChatService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock overrides the wall clock, for tests.
func (s *ChatService) SetClock(now func() time.Time) { s.now = now }

// Mutation is the view of a locked chat handed to a Mutate callback. Events
// emitted through it are published only once the transaction commits.
type Mutation struct {
	s       *ChatService
	tx      repository.ChatTx
	now     time.Time
	pending []events.Envelope
	touched []string
}

func (m *Mutation) Chat() *chat.Chat { return m.tx.Chat() }
func (m *Mutation) Tx() repository.ChatTx { return m.tx }
func (m *Mutation) Now() time.Time { return m.now }
func (m *Mutation) Emit(env events.Envelope) { m.pending = append(m.pending, env) }

// EmitToRoom queues an event for every connection joined to the chat room.
func (m *Mutation) EmitToRoom(eventType string, payload any) error {
	env, err := events.ToRoom(m.Chat().ID, eventType, payload)
	if err != nil {
		return err
	}
	m.Emit(env)
	return nil
}

// EmitToUser queues an event for every connection of userID.
func (m *Mutation) EmitToUser(userID, eventType string, payload any) error {
	env, err := events.ToUser(userID, eventType, payload)
	if err != nil {
		return err
	}
	m.Emit(env)
	return nil
}

// Touch marks users whose chat list changed besides the current participants.
func (m *Mutation) Touch(userIDs ...string) { m.touched = append(m.touched, userIDs...) }

// RequireParticipant fails unless userID currently belongs to the chat.
func (m *Mutation) RequireParticipant(userID string) error {
	if !m.Chat().HasParticipant(userID) {
		return netyora_errors.ErrNotParticipant
	}
	return nil
}

// Append persists a new message from sender and updates the chat summary.
func (m *Mutation) Append(sender string, p chat.MessagePayload) (chat.Message, error) {
	c := m.Chat()
	if err := m.RequireParticipant(sender); err != nil {
		return chat.Message{}, err
	}
	if err := p.Validate(); err != nil {
		return chat.Message{}, err
	}

	// Timestamps never run backwards inside a chat, whatever the node clock says.
	ts := m.now
	if ts.Before(c.UpdatedAt) {
		ts = c.UpdatedAt
	}

	c.LastSeq++
	msg := chat.Message{
		ID:        uuid.NewString(),
		ChatID:    c.ID,
		Seq:       c.LastSeq,
		SenderID:  sender,
		Timestamp: ts,
	}
	if err := p.Apply(&msg); err != nil {
		return chat.Message{}, err
	}
	if err := m.tx.InsertMessage(&msg); err != nil {
		return chat.Message{}, err
	}

	c.ReadBy = chat.UserSet{sender}
	c.LastMessagePreview = chat.Preview(&msg)
	c.UpdatedAt = ts
	if err := m.tx.SaveChat(); err != nil {
		return chat.Message{}, err
	}
	if err := m.tx.MarkParticipantRead(sender, msg.Seq); err != nil {
		return chat.Message{}, err
	}
	if err := m.tx.UnhideAll(); err != nil {
		return chat.Message{}, err
	}

	eventType := events.TypeMessage
	if msg.Kind == chat.MessageVoice {
		eventType = events.TypeVoiceMessage
	}
	if err := m.EmitToRoom(eventType, msg.View()); err != nil {
		return chat.Message{}, err
	}
	m.s.metrics.MessageAppended(string(msg.Kind))
	return msg, nil
}

// RefreshPreview recomputes the preview from the newest visible message.
func (m *Mutation) RefreshPreview() error {
	latest, ok, err := m.tx.LatestMessage()
	if err != nil {
		return err
	}
	if ok {
		m.Chat().LastMessagePreview = chat.Preview(&latest)
	} else {
		m.Chat().LastMessagePreview = ""
	}
	return m.tx.SaveChat()
}

// Mutate runs fn while holding the chat both in this process and in the
// store. Queued events are published in order after commit, before the lock
// is released, so room delivery follows persisted order.
func (s *ChatService) Mutate(ctx context.Context, chatID string, fn func(m *Mutation) error) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	var mut *Mutation
	err := s.repo.InChatTx(ctx, chatID, func(tx repository.ChatTx) error {
		mut = &Mutation{s: s, tx: tx, now: s.now()}
		return fn(mut)
	})
	if err != nil {
		return err
	}

	pubCtx := context.WithoutCancel(ctx)
	for _, env := range mut.pending {
		if err := s.bus.Publish(pubCtx, env); err != nil {
			s.logger.Error("Failed to publish chat event",
				zap.String("chat_id", chatID),
				zap.String("event", env.Type),
				zap.Error(err),
			)
		}
	}

	affected := append(append([]string{}, mut.Chat().Participants...), mut.touched...)
	s.cache.Invalidate(pubCtx, affected...)
	return nil
}

// OpenOrFindPersonalChat returns the personal chat between a and b, creating
// it when missing. created reports whether this call created it.
func (s *ChatService) OpenOrFindPersonalChat(ctx context.Context, a, b string) (chat.Chat, bool, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return chat.Chat{}, false, fmt.Errorf("%w: both users are required", netyora_errors.ErrInvalidArgument)
	}
	if a == b {
		return chat.Chat{}, false, netyora_errors.ErrSelfChatForbidden
	}
	if _, err := s.users.GetByID(ctx, b); err != nil {
		if errors.Is(err, netyora_errors.ErrNotFound) {
			return chat.Chat{}, false, netyora_errors.ErrPeerNotFound
		}
		return chat.Chat{}, false, err
	}

	existing, err := s.repo.FindPersonal(ctx, a, b)
	if err == nil {
		return existing, false, s.unhideFor(ctx, existing.ID, a)
	}
	if !errors.Is(err, netyora_errors.ErrNotFound) {
		return chat.Chat{}, false, err
	}

	now := s.now()
	c := chat.Chat{
		ID:           uuid.NewString(),
		Kind:         chat.KindPersonal,
		CreatedBy:    a,
		PairKey:      chat.PairKey(a, b),
		ReadBy:       chat.UserSet{},
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: []string{a, b},
	}
	if err := s.repo.CreateChat(ctx, &c); err != nil {
		if errors.Is(err, netyora_errors.ErrConflict) {
			// lost the creation race; the winner's chat is the chat
			winner, findErr := s.repo.FindPersonal(ctx, a, b)
			return winner, false, findErr
		}
		return chat.Chat{}, false, err
	}

	s.announceMembership(ctx, c.ID, c.Participants)
	s.cache.Invalidate(ctx, c.Participants...)
	return c, true, nil
}

func (s *ChatService) unhideFor(ctx context.Context, chatID, userID string) error {
	p, err := s.repo.GetParticipant(ctx, chatID, userID)
	if err != nil || p.HiddenAt == nil {
		return err
	}
	return s.Mutate(ctx, chatID, func(m *Mutation) error {
		return m.Tx().SetHidden(userID, nil)
	})
}

type GroupChatInput struct {
	Creator      string
	Kind         chat.Kind
	Title        string
	AvatarURL    string
	CommunityID  string
	Participants []string
}

func (s *ChatService) CreateGroupChat(ctx context.Context, in GroupChatInput) (chat.Chat, error) {
	kind := in.Kind
	if kind == "" {
		kind = chat.KindGroup
	}
	if kind != chat.KindGroup && kind != chat.KindCommunity {
		return chat.Chat{}, fmt.Errorf("%w: kind must be group or community", netyora_errors.ErrInvalidArgument)
	}
	if kind == chat.KindCommunity && strings.TrimSpace(in.CommunityID) == "" {
		return chat.Chat{}, netyora_errors.Structural("communityId")
	}

	participants := chat.NormalizeParticipants(append([]string{in.Creator}, in.Participants...)...)
	if len(participants) < 2 {
		return chat.Chat{}, netyora_errors.ErrInvalidMembership
	}
	if err := s.requireUsers(ctx, participants); err != nil {
		return chat.Chat{}, err
	}

	now := s.now()
	c := chat.Chat{
		ID:           uuid.NewString(),
		Kind:         kind,
		Title:        chat.SanitizeText(in.Title),
		AvatarURL:    strings.TrimSpace(in.AvatarURL),
		CommunityID:  strings.TrimSpace(in.CommunityID),
		CreatedBy:    in.Creator,
		ReadBy:       chat.UserSet{},
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: participants,
	}
	if err := s.repo.CreateChat(ctx, &c); err != nil {
		return chat.Chat{}, err
	}

	s.announceMembership(ctx, c.ID, c.Participants)
	s.cache.Invalidate(ctx, c.Participants...)
	return c, nil
}

func (s *ChatService) requireUsers(ctx context.Context, ids []string) error {
	found, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("%w: user %s", netyora_errors.ErrNotFound, id)
		}
	}
	return nil
}

// announceMembership tells each user's connections that they joined chatID.
func (s *ChatService) announceMembership(ctx context.Context, chatID string, userIDs []string) {
	for _, id := range userIDs {
		env, err := events.ToUser(id, events.TypeJoinedChat, events.MembershipPayload{ChatID: chatID, UserID: id})
		if err == nil {
			err = s.bus.Publish(context.WithoutCancel(ctx), env)
		}
		if err != nil {
			s.logger.Warn("Failed to announce chat membership", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

type GroupChatUpdate struct {
	Title              *string
	AvatarURL          *string
	AddParticipants    []string
	RemoveParticipants []string
}

func (s *ChatService) UpdateGroupChat(ctx context.Context, chatID, caller string, in GroupChatUpdate) (chat.Chat, error) {
	added := chat.NormalizeParticipants(in.AddParticipants...)
	removed := chat.NormalizeParticipants(in.RemoveParticipants...)
	if err := s.requireUsers(ctx, added); err != nil {
		return chat.Chat{}, err
	}

	var out chat.Chat
	err := s.Mutate(ctx, chatID, func(m *Mutation) error {
		c := m.Chat()
		if c.Kind == chat.KindPersonal {
			return fmt.Errorf("%w: personal chats cannot be edited", netyora_errors.ErrInvalidArgument)
		}
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}

		if in.Title != nil {
			c.Title = chat.SanitizeText(*in.Title)
		}
		if in.AvatarURL != nil {
			c.AvatarURL = strings.TrimSpace(*in.AvatarURL)
		}

		var joined []string
		for _, id := range added {
			if !c.HasParticipant(id) {
				joined = append(joined, id)
			}
		}
		if err := m.Tx().AddParticipants(joined, m.Now()); err != nil {
			return err
		}

		var left []string
		for _, id := range removed {
			if !c.HasParticipant(id) {
				continue
			}
			if err := m.Tx().RemoveParticipant(id); err != nil {
				return err
			}
			left = append(left, id)
		}
		if len(c.Participants) < 2 {
			return netyora_errors.ErrInvalidMembership
		}
		if err := m.Tx().SaveChat(); err != nil {
			return err
		}

		for _, id := range joined {
			if err := m.EmitToUser(id, events.TypeJoinedChat, events.MembershipPayload{ChatID: c.ID, UserID: id}); err != nil {
				return err
			}
		}
		for _, id := range left {
			if err := m.EmitToRoom(events.TypeLeftChat, events.MembershipPayload{ChatID: c.ID, UserID: id}); err != nil {
				return err
			}
			if err := m.EmitToUser(id, events.TypeLeftChat, events.MembershipPayload{ChatID: c.ID, UserID: id}); err != nil {
				return err
			}
		}
		m.Touch(left...)
		out = *c
		return nil
	})
	return out, err
}

// LeaveChat removes the caller from a group or community chat. Personal chats,
// and groups that would drop below two members, are hidden for the caller
// instead until the next message arrives.
func (s *ChatService) LeaveChat(ctx context.Context, chatID, caller string) error {
	return s.Mutate(ctx, chatID, func(m *Mutation) error {
		c := m.Chat()
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}
		if c.Kind == chat.KindPersonal || len(c.Participants) <= 2 {
			now := m.Now()
			return m.Tx().SetHidden(caller, &now)
		}

		if err := m.Tx().RemoveParticipant(caller); err != nil {
			return err
		}
		m.Touch(caller)
		payload := events.MembershipPayload{ChatID: c.ID, UserID: caller}
		if err := m.EmitToRoom(events.TypeLeftChat, payload); err != nil {
			return err
		}
		return m.EmitToUser(caller, events.TypeLeftChat, payload)
	})
}

// ChatPage is one page of a user's chat list.
type ChatPage struct {
	Chats      []chat.View `json:"chats"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

func (s *ChatService) GetChatsForUser(ctx context.Context, userID, cursor string, limit int, search string) (ChatPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxChatPageSize {
		limit = maxChatPageSize
	}
	search = strings.TrimSpace(search)

	key := cursor + "|" + strconv.Itoa(limit) + "|" + strings.ToLower(search)
	if raw, ok := s.cache.Get(ctx, userID, key); ok {
		var page ChatPage
		if err := json.Unmarshal(raw, &page); err == nil {
			return page, nil
		}
	}

	chats, err := s.repo.ListForUser(ctx, repository.ListChatsQuery{
		UserID: userID,
		Cursor: cursor,
		Limit:  limit + 1,
		Search: search,
	})
	if err != nil {
		return ChatPage{}, err
	}

	page := ChatPage{}
	if len(chats) > limit {
		chats = chats[:limit]
		page.NextCursor = chats[limit-1].ID
	}
	page.Chats, err = s.views(ctx, userID, chats)
	if err != nil {
		return ChatPage{}, err
	}

	if raw, err := json.Marshal(page); err == nil {
		s.cache.Set(ctx, userID, key, raw)
	}
	return page, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID, caller string) (chat.View, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return chat.View{}, err
	}
	if !c.HasParticipant(caller) {
		return chat.View{}, netyora_errors.ErrNotParticipant
	}
	views, err := s.views(ctx, caller, []chat.Chat{c})
	if err != nil {
		return chat.View{}, err
	}
	return views[0], nil
}

// IsParticipant reports whether userID belongs to chatID.
func (s *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	_, err := s.repo.GetParticipant(ctx, chatID, userID)
	if errors.Is(err, netyora_errors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetMessages returns up to limit messages older than the message beforeID
// (the newest when beforeID is empty), oldest first.
func (s *ChatService) GetMessages(ctx context.Context, chatID, caller, beforeID string, limit int) ([]chat.Message, error) {
	if err := s.requireMember(ctx, chatID, caller); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize * 2
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}

	var beforeSeq int64
	if beforeID != "" {
		anchor, err := s.repo.GetMessage(ctx, chatID, beforeID)
		if err != nil {
			if errors.Is(err, netyora_errors.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown before cursor", netyora_errors.ErrInvalidArgument)
			}
			return nil, err
		}
		beforeSeq = anchor.Seq
	}
	return s.repo.ListMessages(ctx, chatID, beforeSeq, limit)
}

// requireMember distinguishes a missing chat from a chat the caller is not in.
func (s *ChatService) requireMember(ctx context.Context, chatID, userID string) error {
	ok, err := s.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.repo.GetChat(ctx, chatID); err != nil {
		return err
	}
	return netyora_errors.ErrNotParticipant
}

func (s *ChatService) AppendMessage(ctx context.Context, chatID, sender string, p chat.MessagePayload) (chat.Message, error) {
	msg, _, err := s.appendMessage(ctx, chatID, sender, p)
	return msg, err
}

// appendMessage also returns the participants at the moment of the append.
func (s *ChatService) appendMessage(ctx context.Context, chatID, sender string, p chat.MessagePayload) (chat.Message, []string, error) {
	if p.Kind == chat.MessageText || p.Kind.IsAttachment() {
		p.Content = chat.SanitizeText(p.Content)
	}
	if err := p.Validate(); err != nil {
		return chat.Message{}, nil, err
	}

	var (
		msg          chat.Message
		participants []string
	)
	err := s.Mutate(ctx, chatID, func(m *Mutation) error {
		var err error
		msg, err = m.Append(sender, p)
		participants = append([]string{}, m.Chat().Participants...)
		return err
	})
	return msg, participants, err
}

func (s *ChatService) EditMessage(ctx context.Context, chatID, caller, messageID, content string) (chat.Message, error) {
	content = chat.SanitizeText(content)
	if err := chat.TextPayload(content).Validate(); err != nil {
		return chat.Message{}, err
	}

	var out chat.Message
	err := s.Mutate(ctx, chatID, func(m *Mutation) error {
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}
		msg, err := m.Tx().GetMessage(messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != caller {
			return netyora_errors.ErrNotSender
		}
		if msg.Kind != chat.MessageText {
			return fmt.Errorf("%w: only text messages can be edited", netyora_errors.ErrInvalidArgument)
		}

		now := m.Now()
		msg.Content = content
		msg.Edited = true
		msg.EditedAt = &now
		if err := m.Tx().SaveMessage(&msg); err != nil {
			return err
		}
		if msg.Seq == m.Chat().LastSeq {
			m.Chat().LastMessagePreview = chat.Preview(&msg)
			if err := m.Tx().SaveChat(); err != nil {
				return err
			}
		}
		out = msg
		return m.EmitToRoom(events.TypeMessageEdited, msg.View())
	})
	return out, err
}

// DeleteMessage removes a message sent by caller. A hard delete drops the row;
// attachments whose blob still exists are only removed logically so the sweep
// can reclaim the blob.
func (s *ChatService) DeleteMessage(ctx context.Context, chatID, caller, messageID string, hard bool) error {
	return s.Mutate(ctx, chatID, func(m *Mutation) error {
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}
		msg, err := m.Tx().GetMessage(messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != caller {
			return netyora_errors.ErrNotSender
		}

		if hard && !(msg.Kind.IsAttachment() && !msg.IsDeleted) {
			err = m.Tx().HardDeleteMessage(msg.ID)
		} else {
			now := m.Now()
			msg.RemovedAt = &now
			err = m.Tx().SaveMessage(&msg)
		}
		if err != nil {
			return err
		}

		if err := m.RefreshPreview(); err != nil {
			return err
		}
		return m.EmitToRoom(events.TypeMessageDeleted, events.MessageDeletedPayload{
			ChatID:             chatID,
			MessageID:          messageID,
			LastMessagePreview: m.Chat().LastMessagePreview,
		})
	})
}

// MarkRead adds caller to the chat's readBy set. Repeating it changes nothing.
func (s *ChatService) MarkRead(ctx context.Context, chatID, caller string) error {
	return s.Mutate(ctx, chatID, func(m *Mutation) error {
		c := m.Chat()
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}
		readBy, changed := c.ReadBy.Add(caller)
		if !changed {
			return nil
		}
		c.ReadBy = readBy
		if err := m.Tx().SaveChat(); err != nil {
			return err
		}
		if err := m.Tx().MarkParticipantRead(caller, c.LastSeq); err != nil {
			return err
		}
		return m.EmitToRoom(events.TypeChatRead, events.ChatReadPayload{ChatID: c.ID, UserID: caller})
	})
}

// UnreadCountFor is zero once the caller has read the chat, otherwise the
// number of messages from others since the caller last read it.
func (s *ChatService) UnreadCountFor(ctx context.Context, chatID, caller string) (int64, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if !c.HasParticipant(caller) {
		return 0, netyora_errors.ErrNotParticipant
	}
	return s.unreadCount(ctx, &c, caller)
}

func (s *ChatService) unreadCount(ctx context.Context, c *chat.Chat, caller string) (int64, error) {
	if c.ReadBy.Contains(caller) {
		return 0, nil
	}
	p, err := s.repo.GetParticipant(ctx, c.ID, caller)
	if err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, c.ID, caller, p.LastReadSeq)
}

// PurgeInvalidMessages drops messages whose kind is outside the accepted set.
func (s *ChatService) PurgeInvalidMessages(ctx context.Context, chatID string) (int64, error) {
	var purged int64
	err := s.Mutate(ctx, chatID, func(m *Mutation) error {
		var err error
		purged, err = m.Tx().PurgeInvalidMessages()
		if err != nil || purged == 0 {
			return err
		}
		return m.RefreshPreview()
	})
	return purged, err
}
