package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"netyora-chat/internal/domain/chat"
	netyora_errors "netyora-chat/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPageSize = 100

type PostgresChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &PostgresChatRepository{db: db}
}

func (r *PostgresChatRepository) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	var c chat.Chat
	if err := r.db.WithContext(ctx).Where("id = ?", chatID).First(&c).Error; err != nil {
		return chat.Chat{}, mapError(err)
	}
	ids, err := participantIDs(r.db.WithContext(ctx), chatID)
	if err != nil {
		return chat.Chat{}, err
	}
	c.Participants = ids
	return c, nil
}

func (r *PostgresChatRepository) FindPersonal(ctx context.Context, a, b string) (chat.Chat, error) {
	var c chat.Chat
	err := r.db.WithContext(ctx).
		Where("kind = ? AND pair_key = ?", chat.KindPersonal, chat.PairKey(a, b)).
		First(&c).Error
	if err != nil {
		return chat.Chat{}, mapError(err)
	}
	ids, err := participantIDs(r.db.WithContext(ctx), c.ID)
	if err != nil {
		return chat.Chat{}, err
	}
	c.Participants = ids
	return c, nil
}

func (r *PostgresChatRepository) CreateChat(ctx context.Context, c *chat.Chat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return mapError(err)
		}
		rows := make([]chat.Participant, 0, len(c.Participants))
		for _, id := range c.Participants {
			rows = append(rows, chat.Participant{ChatID: c.ID, UserID: id, JoinedAt: c.CreatedAt})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return mapError(err)
		}
		return nil
	})
}

func (r *PostgresChatRepository) ListForUser(ctx context.Context, q ListChatsQuery) ([]chat.Chat, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	db := r.db.WithContext(ctx).
		Model(&chat.Chat{}).
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ? AND cp.hidden_at IS NULL", q.UserID)

	if q.Search != "" {
		pattern := likePattern(q.Search)
		db = db.Where(`(LOWER(chats.title) LIKE ? ESCAPE '\' OR EXISTS (
			SELECT 1 FROM chat_participants op JOIN users u ON u.id = op.user_id
			WHERE op.chat_id = chats.id AND op.user_id <> ? AND LOWER(u.display_name) LIKE ? ESCAPE '\'))`,
			pattern, q.UserID, pattern)
	}

	if q.Cursor != "" {
		var cur chat.Chat
		if err := r.db.WithContext(ctx).Select("id", "updated_at").Where("id = ?", q.Cursor).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: unknown cursor", netyora_errors.ErrInvalidArgument)
			}
			return nil, err
		}
		db = db.Where("(chats.updated_at < ? OR (chats.updated_at = ? AND chats.id < ?))", cur.UpdatedAt, cur.UpdatedAt, cur.ID)
	}

	var chats []chat.Chat
	if err := db.Order("chats.updated_at DESC").Order("chats.id DESC").Limit(limit).Find(&chats).Error; err != nil {
		return nil, err
	}
	if err := loadParticipants(r.db.WithContext(ctx), chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *PostgresChatRepository) GetParticipant(ctx context.Context, chatID, userID string) (chat.Participant, error) {
	var p chat.Participant
	if err := r.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).First(&p).Error; err != nil {
		return chat.Participant{}, mapError(err)
	}
	return p, nil
}

func (r *PostgresChatRepository) GetMessage(ctx context.Context, chatID, messageID string) (chat.Message, error) {
	return getMessage(r.db.WithContext(ctx), chatID, messageID)
}

func (r *PostgresChatRepository) ListMessages(ctx context.Context, chatID string, beforeSeq int64, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	db := r.db.WithContext(ctx).Where("chat_id = ? AND removed_at IS NULL", chatID)
	if beforeSeq > 0 {
		db = db.Where("seq < ?", beforeSeq)
	}

	var msgs []chat.Message
	if err := db.Order("seq DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if err := checkKinds(msgs); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (r *PostgresChatRepository) CountUnread(ctx context.Context, chatID, userID string, afterSeq int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("chat_id = ? AND removed_at IS NULL AND sender_id <> ? AND seq > ?", chatID, userID, afterSeq).
		Count(&n).Error
	return n, err
}

func (r *PostgresChatRepository) ChatsWithExpiredAttachments(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND is_deleted = ?", now, false).
		Distinct().
		Pluck("chat_id", &ids).Error
	return ids, err
}

func (r *PostgresChatRepository) InChatTx(ctx context.Context, chatID string, fn func(tx ChatTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var c chat.Chat
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chatID).First(&c).Error; err != nil {
			return mapError(err)
		}
		ids, err := participantIDs(db, chatID)
		if err != nil {
			return err
		}
		c.Participants = ids
		return fn(&gormChatTx{db: db, chat: &c})
	})
}

type gormChatTx struct {
	db   *gorm.DB
	chat *chat.Chat
}

func (t *gormChatTx) Chat() *chat.Chat { return t.chat }

func (t *gormChatTx) SaveChat() error {
	return mapError(t.db.Save(t.chat).Error)
}

func (t *gormChatTx) InsertMessage(m *chat.Message) error {
	return mapError(t.db.Create(m).Error)
}

func (t *gormChatTx) SaveMessage(m *chat.Message) error {
	return mapError(t.db.Save(m).Error)
}

func (t *gormChatTx) HardDeleteMessage(messageID string) error {
	res := t.db.Where("chat_id = ? AND id = ?", t.chat.ID, messageID).Delete(&chat.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return netyora_errors.ErrNotFound
	}
	return nil
}

func (t *gormChatTx) GetMessage(messageID string) (chat.Message, error) {
	return getMessage(t.db, t.chat.ID, messageID)
}

func (t *gormChatTx) LatestMessage() (chat.Message, bool, error) {
	var msgs []chat.Message
	err := t.db.Where("chat_id = ? AND removed_at IS NULL", t.chat.ID).Order("seq DESC").Limit(1).Find(&msgs).Error
	if err != nil {
		return chat.Message{}, false, err
	}
	if len(msgs) == 0 {
		return chat.Message{}, false, nil
	}
	return msgs[0], true, nil
}

// Invitations scans the chat's invitation messages. Rows with a kind outside
// the accepted set are included in the scan so legacy data surfaces here.
func (t *gormChatTx) Invitations(roomID string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := t.db.
		Where("chat_id = ? AND removed_at IS NULL", t.chat.ID).
		Where("(kind = ? OR kind NOT IN ?)", chat.MessageVideoInvitation, chat.AcceptedKinds()).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	if err := checkKinds(msgs); err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.Invitation != nil && m.Invitation.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *gormChatTx) ExpiredAttachments(now time.Time) ([]chat.Message, error) {
	var msgs []chat.Message
	err := t.db.
		Where("chat_id = ? AND expires_at IS NOT NULL AND expires_at <= ? AND is_deleted = ?", t.chat.ID, now, false).
		Order("seq ASC").
		Find(&msgs).Error
	return msgs, err
}

func (t *gormChatTx) PurgeInvalidMessages() (int64, error) {
	res := t.db.Where("chat_id = ? AND kind NOT IN ?", t.chat.ID, chat.AcceptedKinds()).Delete(&chat.Message{})
	return res.RowsAffected, res.Error
}

func (t *gormChatTx) AddParticipants(userIDs []string, at time.Time) error {
	for _, id := range userIDs {
		row := chat.Participant{ChatID: t.chat.ID, UserID: id, JoinedAt: at, LastReadSeq: t.chat.LastSeq}
		if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		if !t.chat.HasParticipant(id) {
			t.chat.Participants = append(t.chat.Participants, id)
		}
	}
	return nil
}

func (t *gormChatTx) RemoveParticipant(userID string) error {
	res := t.db.Where("chat_id = ? AND user_id = ?", t.chat.ID, userID).Delete(&chat.Participant{})
	if res.Error != nil {
		return res.Error
	}
	t.chat.Participants = slices.DeleteFunc(t.chat.Participants, func(id string) bool { return id == userID })
	return nil
}

func (t *gormChatTx) SetHidden(userID string, at *time.Time) error {
	return t.db.Model(&chat.Participant{}).
		Where("chat_id = ? AND user_id = ?", t.chat.ID, userID).
		Update("hidden_at", at).Error
}

func (t *gormChatTx) UnhideAll() error {
	return t.db.Model(&chat.Participant{}).
		Where("chat_id = ? AND hidden_at IS NOT NULL", t.chat.ID).
		Update("hidden_at", nil).Error
}

func (t *gormChatTx) MarkParticipantRead(userID string, seq int64) error {
	return t.db.Model(&chat.Participant{}).
		Where("chat_id = ? AND user_id = ?", t.chat.ID, userID).
		Update("last_read_seq", seq).Error
}

func getMessage(db *gorm.DB, chatID, messageID string) (chat.Message, error) {
	var m chat.Message
	err := db.Where("chat_id = ? AND id = ? AND removed_at IS NULL", chatID, messageID).First(&m).Error
	if err != nil {
		return chat.Message{}, mapError(err)
	}
	if !m.Kind.Valid() {
		return chat.Message{}, corrupt(m)
	}
	return m, nil
}

func participantIDs(db *gorm.DB, chatID string) ([]string, error) {
	var ids []string
	err := db.Model(&chat.Participant{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC").Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func loadParticipants(db *gorm.DB, chats []chat.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]string, len(chats))
	for i := range chats {
		ids[i] = chats[i].ID
	}
	var rows []chat.Participant
	if err := db.Where("chat_id IN ?", ids).Order("joined_at ASC").Order("user_id ASC").Find(&rows).Error; err != nil {
		return err
	}
	byChat := make(map[string][]string, len(chats))
	for _, p := range rows {
		byChat[p.ChatID] = append(byChat[p.ChatID], p.UserID)
	}
	for i := range chats {
		chats[i].Participants = byChat[chats[i].ID]
	}
	return nil
}

func checkKinds(msgs []chat.Message) error {
	for _, m := range msgs {
		if !m.Kind.Valid() {
			return corrupt(m)
		}
	}
	return nil
}

func corrupt(m chat.Message) error {
	return fmt.Errorf("%w: message %s in chat %s has kind %q", netyora_errors.ErrDataCorruption, m.ID, m.ChatID, m.Kind)
}
