package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/services"
	"netyora-chat/internal/transport/httpdto"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	chats *services.ChatService
	video *services.VideoService
}

func NewMessageHandler(chats *services.ChatService, video *services.VideoService) *MessageHandler {
	return &MessageHandler{chats: chats, video: video}
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	msgs, err := h.chats.GetMessages(c.Request.Context(), chatID, userID, c.Query("before"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	views := make([]chat.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.View())
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MessagesResponse{Messages: views}))
}

// Send appends a text message, or starts a video invitation when the body
// asks for one.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	var req httpdto.SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	switch chat.MessageKind(req.Kind) {
	case "", chat.MessageText:
		msg, err := h.chats.AppendMessage(c.Request.Context(), chatID, userID, chat.TextPayload(req.Content))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(msg.View()))
	case chat.MessageVideoInvitation:
		session, err := h.video.StartInvitationForChat(c.Request.Context(), chatID, userID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(session))
	default:
		_ = c.Error(fmt.Errorf("%w: kind %q cannot be sent here", netyora_errors.ErrInvalidArgument, req.Kind))
	}
}

func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathParam(c, "mid")
	if !ok {
		return
	}
	var req httpdto.EditMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.chats.EditMessage(c.Request.Context(), chatID, userID, messageID, req.Content)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(msg.View()))
}

// Delete removes a message sent by the caller. ?hard=true drops the row
// instead of hiding it.
func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathParam(c, "mid")
	if !ok {
		return
	}
	hard := false
	if raw := c.Query("hard"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			_ = c.Error(fmt.Errorf("%w: invalid hard flag", netyora_errors.ErrInvalidArgument))
			return
		}
		hard = parsed
	}
	if err := h.chats.DeleteMessage(c.Request.Context(), chatID, userID, messageID, hard); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}
