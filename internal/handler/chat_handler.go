package handler

import (
	"fmt"
	"net/http"
	"strings"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/services"
	"netyora-chat/internal/transport/httpdto"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	service *services.ChatService
}

func NewChatHandler(service *services.ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	page, err := h.service.GetChatsForUser(c.Request.Context(), userID, c.Query("cursor"), limit, c.Query("search"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

func (h *ChatHandler) Create(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req httpdto.CreateChatRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	kind := chat.Kind(strings.TrimSpace(req.Kind))
	switch kind {
	case "", chat.KindPersonal:
		if strings.TrimSpace(req.Recipient) == "" {
			_ = c.Error(netyora_errors.Structural("recipient"))
			return
		}
		created, isNew, err := h.service.OpenOrFindPersonalChat(ctx, userID, req.Recipient)
		if err != nil {
			_ = c.Error(err)
			return
		}
		h.respondCreated(c, created.ID, userID, isNew)
	case chat.KindGroup, chat.KindCommunity:
		created, err := h.service.CreateGroupChat(ctx, services.GroupChatInput{
			Creator:      userID,
			Kind:         kind,
			Title:        req.Title,
			AvatarURL:    req.Avatar,
			CommunityID:  req.CommunityID,
			Participants: req.Participants,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}
		h.respondCreated(c, created.ID, userID, true)
	default:
		_ = c.Error(fmt.Errorf("%w: unknown chat kind %q", netyora_errors.ErrInvalidArgument, req.Kind))
	}
}

func (h *ChatHandler) respondCreated(c *gin.Context, chatID, userID string, created bool) {
	view, err := h.service.GetChat(c.Request.Context(), chatID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, httpdto.NewSuccessResponse(httpdto.CreateChatResponse{Chat: view, Created: created}))
}

func (h *ChatHandler) Get(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	view, err := h.service.GetChat(c.Request.Context(), chatID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *ChatHandler) Update(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	var req httpdto.UpdateChatRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := h.service.UpdateGroupChat(c.Request.Context(), chatID, userID, services.GroupChatUpdate{
		Title:              req.Title,
		AvatarURL:          req.Avatar,
		AddParticipants:    req.AddParticipants,
		RemoveParticipants: req.RemoveParticipants,
	}); err != nil {
		_ = c.Error(err)
		return
	}
	view, err := h.service.GetChat(c.Request.Context(), chatID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

// Leave removes the caller from a group, or hides a personal chat for the
// caller until the next message.
func (h *ChatHandler) Leave(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.LeaveChat(c.Request.Context(), chatID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), chatID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *ChatHandler) Unread(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	n, err := h.service.UnreadCountFor(c.Request.Context(), chatID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadResponse{ChatID: chatID, Unread: n}))
}
