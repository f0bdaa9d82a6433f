package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/events"
	"netyora-chat/internal/services"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOrFindPersonalChatReturnsSameChat(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	first, created, err := f.chats.OpenOrFindPersonalChat(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.chats.OpenOrFindPersonalChat(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"u1", "u2"}, second.Participants)

	var count int64
	require.NoError(t, f.db.Model(&chat.Chat{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOpenOrFindPersonalChatConcurrentCallersShareOneChat(t *testing.T) {
	f := newFixture(t, "u1", "u2")

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			c, _, err := f.chats.OpenOrFindPersonalChat(context.Background(), a, b)
			assert.NoError(t, err)
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestOpenOrFindPersonalChatRejections(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	_, _, err := f.chats.OpenOrFindPersonalChat(ctx, "u1", "u1")
	assert.ErrorIs(t, err, netyora_errors.ErrSelfChatForbidden)
	assert.ErrorIs(t, err, netyora_errors.ErrForbidden)

	_, _, err = f.chats.OpenOrFindPersonalChat(ctx, "u1", "ghost")
	assert.ErrorIs(t, err, netyora_errors.ErrPeerNotFound)
	assert.ErrorIs(t, err, netyora_errors.ErrNotFound)
}

func TestCreateGroupChatAddsCreatorAndNeedsTwoMembers(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	_, err := f.chats.CreateGroupChat(ctx, services.GroupChatInput{Creator: "u1", Participants: []string{"u1", " "}})
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidMembership)

	c, err := f.chats.CreateGroupChat(ctx, services.GroupChatInput{
		Creator:      "u1",
		Title:        "  Guitar swap  ",
		Participants: []string{"u2", "u3", "u2"},
	})
	require.NoError(t, err)
	assert.Equal(t, chat.KindGroup, c.Kind)
	assert.Equal(t, "Guitar swap", c.Title)
	assert.Equal(t, []string{"u1", "u2", "u3"}, c.Participants)
	assert.Len(t, f.events.ofType(events.TypeJoinedChat), 3)

	_, err = f.chats.CreateGroupChat(ctx, services.GroupChatInput{Creator: "u1", Participants: []string{"nobody"}})
	assert.ErrorIs(t, err, netyora_errors.ErrNotFound)
}

func TestAppendMessageUpdatesSummaryAndFansOutInOrder(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	var sent []chat.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload(text))
		require.NoError(t, err)
		sent = append(sent, msg)
		f.clock.Advance(time.Second)
	}

	delivered := f.events.ofType(events.TypeMessage)
	require.Len(t, delivered, 3)
	for i, env := range delivered {
		var view chat.MessageView
		require.NoError(t, json.Unmarshal(env.Payload, &view))
		assert.Equal(t, sent[i].ID, view.ID)
		assert.Equal(t, int64(i+1), view.Seq)
		assert.Equal(t, chatID, env.Room)
	}

	c, err := f.chatRepo.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "three", c.LastMessagePreview)
	assert.Equal(t, chat.UserSet{"u1"}, c.ReadBy)
	assert.True(t, sent[2].Timestamp.Equal(c.UpdatedAt))
}

func TestAppendMessageValidation(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	_, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("   "))
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidArgument)

	_, err = f.chats.AppendMessage(ctx, chatID, "u3", chat.TextPayload("hi"))
	assert.ErrorIs(t, err, netyora_errors.ErrForbidden)

	_, err = f.chats.AppendMessage(ctx, chatID, "u1", chat.MessagePayload{Kind: "sticker", Content: "x"})
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidArgument)

	_, err = f.chats.AppendMessage(ctx, "missing", "u1", chat.TextPayload("hi"))
	assert.ErrorIs(t, err, netyora_errors.ErrNotFound)

	assert.Empty(t, f.events.ofType(events.TypeMessage))
}

func TestAppendClampsTimestampToLastMessage(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	first, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("first"))
	require.NoError(t, err)

	f.clock.Advance(-time.Minute)
	second, err := f.chats.AppendMessage(ctx, chatID, "u2", chat.TextPayload("second"))
	require.NoError(t, err)

	assert.False(t, second.Timestamp.Before(first.Timestamp))
	assert.Greater(t, second.Seq, first.Seq)
}

func TestGetMessagesPaging(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	var ids []string
	for i := 0; i < 4; i++ {
		msg, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("m"))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	newest, err := f.chats.GetMessages(ctx, chatID, "u2", "", 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{newest[0].ID, newest[1].ID})

	older, err := f.chats.GetMessages(ctx, chatID, "u2", ids[2], 10)
	require.NoError(t, err)
	assert.Len(t, older, 2)

	none, err := f.chats.GetMessages(ctx, chatID, "u2", ids[0], 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.chats.GetMessages(ctx, chatID, "u3", "", 10)
	assert.ErrorIs(t, err, netyora_errors.ErrNotParticipant)
}

func TestEditMessageRules(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	msg, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("helo"))
	require.NoError(t, err)

	_, err = f.chats.EditMessage(ctx, chatID, "u2", msg.ID, "hijack")
	assert.ErrorIs(t, err, netyora_errors.ErrNotSender)

	_, err = f.chats.EditMessage(ctx, chatID, "u1", msg.ID, "")
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidArgument)

	edited, err := f.chats.EditMessage(ctx, chatID, "u1", msg.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.NotNil(t, edited.EditedAt)
	assert.Equal(t, msg.Seq, edited.Seq)
	assert.Len(t, f.events.ofType(events.TypeMessageEdited), 1)

	c, err := f.chatRepo.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.LastMessagePreview)

	voice, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.MessagePayload{
		Kind:  chat.MessageVoice,
		Voice: &chat.VoiceInput{URL: "https://blobs.example/v1", DurationMs: 1200, FileSize: 99},
	})
	require.NoError(t, err)
	_, err = f.chats.EditMessage(ctx, chatID, "u1", voice.ID, "text")
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidArgument)
	assert.Len(t, f.events.ofType(events.TypeVoiceMessage), 1)
}

func TestDeleteMessageRecomputesPreview(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	_, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("keep me"))
	require.NoError(t, err)
	last, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("delete me"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.chats.DeleteMessage(ctx, chatID, "u2", last.ID, false), netyora_errors.ErrNotSender)
	require.NoError(t, f.chats.DeleteMessage(ctx, chatID, "u1", last.ID, false))

	c, err := f.chatRepo.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", c.LastMessagePreview)

	msgs, err := f.chats.GetMessages(ctx, chatID, "u1", "", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	deleted := f.events.ofType(events.TypeMessageDeleted)
	require.Len(t, deleted, 1)
	var payload events.MessageDeletedPayload
	require.NoError(t, json.Unmarshal(deleted[0].Payload, &payload))
	assert.Equal(t, "keep me", payload.LastMessagePreview)

	assert.ErrorIs(t, f.chats.DeleteMessage(ctx, chatID, "u1", last.ID, true), netyora_errors.ErrNotFound)
}

func TestMarkReadIsIdempotentAndResetsUnread(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	for i := 0; i < 2; i++ {
		_, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("ping"))
		require.NoError(t, err)
	}

	unread, err := f.chats.UnreadCountFor(ctx, chatID, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	unread, err = f.chats.UnreadCountFor(ctx, chatID, "u1")
	require.NoError(t, err)
	assert.Zero(t, unread)

	require.NoError(t, f.chats.MarkRead(ctx, chatID, "u2"))
	require.NoError(t, f.chats.MarkRead(ctx, chatID, "u2"))
	assert.Len(t, f.events.ofType(events.TypeChatRead), 1)

	unread, err = f.chats.UnreadCountFor(ctx, chatID, "u2")
	require.NoError(t, err)
	assert.Zero(t, unread)

	_, err = f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("again"))
	require.NoError(t, err)
	unread, err = f.chats.UnreadCountFor(ctx, chatID, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestLeaveChat(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	group, err := f.chats.CreateGroupChat(ctx, services.GroupChatInput{Creator: "u1", Participants: []string{"u2", "u3"}})
	require.NoError(t, err)
	require.NoError(t, f.chats.LeaveChat(ctx, group.ID, "u3"))

	view, err := f.chats.GetChat(ctx, group.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, view.Participants, 2)
	assert.Len(t, f.events.ofType(events.TypeLeftChat), 2)

	_, err = f.chats.AppendMessage(ctx, group.ID, "u3", chat.TextPayload("still here?"))
	assert.ErrorIs(t, err, netyora_errors.ErrNotParticipant)

	personal := f.personalChat(t, "u1", "u2")
	require.NoError(t, f.chats.LeaveChat(ctx, personal, "u2"))
	page, err := f.chats.GetChatsForUser(ctx, "u2", "", 10, "")
	require.NoError(t, err)
	for _, c := range page.Chats {
		assert.NotEqual(t, personal, c.ID)
	}

	f.clock.Advance(time.Minute)
	_, err = f.chats.AppendMessage(ctx, personal, "u1", chat.TextPayload("come back"))
	require.NoError(t, err)
	page, err = f.chats.GetChatsForUser(ctx, "u2", "", 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Chats)
	assert.Equal(t, personal, page.Chats[0].ID)
	assert.Equal(t, int64(1), page.Chats[0].UnreadCount)
}

func TestUpdateGroupChat(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3", "u4")
	ctx := context.Background()

	group, err := f.chats.CreateGroupChat(ctx, services.GroupChatInput{Creator: "u1", Participants: []string{"u2"}})
	require.NoError(t, err)

	title := "Book club"
	updated, err := f.chats.UpdateGroupChat(ctx, group.ID, "u1", services.GroupChatUpdate{
		Title:           &title,
		AddParticipants: []string{"u3", "u4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Book club", updated.Title)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3", "u4"}, updated.Participants)

	_, err = f.chats.UpdateGroupChat(ctx, group.ID, "u1", services.GroupChatUpdate{
		RemoveParticipants: []string{"u2", "u3", "u4"},
	})
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidMembership)

	personal := f.personalChat(t, "u1", "u2")
	_, err = f.chats.UpdateGroupChat(ctx, personal, "u1", services.GroupChatUpdate{Title: &title})
	assert.ErrorIs(t, err, netyora_errors.ErrInvalidArgument)
}

func TestGetChatsForUserPagesAndCaches(t *testing.T) {
	f := newFixture(t, "me", "ana", "bob", "cy")
	ctx := context.Background()
	f.chats.SetInboxCache(services.NewMemoryInboxCache(5 * time.Second))

	for _, peer := range []string{"ana", "bob", "cy"} {
		chatID := f.personalChat(t, "me", peer)
		_, err := f.chats.AppendMessage(ctx, chatID, peer, chat.TextPayload("hi from "+peer))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	page, err := f.chats.GetChatsForUser(ctx, "me", "", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Chats, 2)
	assert.Equal(t, "hi from cy", page.Chats[0].LastMessagePreview)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "offline", page.Chats[0].Participants[0].OnlineStatus)

	rest, err := f.chats.GetChatsForUser(ctx, "me", page.NextCursor, 2, "")
	require.NoError(t, err)
	require.Len(t, rest.Chats, 1)
	assert.Equal(t, "hi from ana", rest.Chats[0].LastMessagePreview)
	assert.Empty(t, rest.NextCursor)

	// a write to one of the chats drops the cached first page
	_, err = f.chats.AppendMessage(ctx, rest.Chats[0].ID, "ana", chat.TextPayload("bump"))
	require.NoError(t, err)
	page, err = f.chats.GetChatsForUser(ctx, "me", "", 2, "")
	require.NoError(t, err)
	assert.Equal(t, "bump", page.Chats[0].LastMessagePreview)
}

func TestPurgeInvalidMessages(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	chatID := f.personalChat(t, "u1", "u2")

	_, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("fine"))
	require.NoError(t, err)
	legacy, err := f.chats.AppendMessage(ctx, chatID, "u1", chat.TextPayload("legacy"))
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&chat.Message{}).Where("id = ?", legacy.ID).Update("kind", "poll").Error)

	_, err = f.chats.GetMessages(ctx, chatID, "u1", "", 10)
	assert.ErrorIs(t, err, netyora_errors.ErrDataCorruption)

	n, err := f.chats.PurgeInvalidMessages(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err := f.chats.GetMessages(ctx, chatID, "u1", "", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
