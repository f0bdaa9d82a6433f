package handler

import (
	"context"
	"net/http"

	"netyora-chat/internal/services"
	"netyora-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type VideoHandler struct {
	service *services.VideoService
}

func NewVideoHandler(service *services.VideoService) *VideoHandler {
	return &VideoHandler{service: service}
}

func (h *VideoHandler) StartForChat(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	session, err := h.service.StartInvitationForChat(c.Request.Context(), chatID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(session))
}

func (h *VideoHandler) StartForSwap(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	swapID, ok := pathParam(c, "swapId")
	if !ok {
		return
	}
	session, err := h.service.StartInvitationForSwap(c.Request.Context(), swapID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(session))
}

func (h *VideoHandler) Join(c *gin.Context) {
	chatID, userID, roomID, ok := h.roomRequest(c)
	if !ok {
		return
	}
	session, err := h.service.Join(c.Request.Context(), chatID, userID, roomID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(session))
}

func (h *VideoHandler) Cancel(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

func (h *VideoHandler) End(c *gin.Context) {
	h.transition(c, h.service.End)
}

func (h *VideoHandler) Timeout(c *gin.Context) {
	h.transition(c, h.service.Timeout)
}

func (h *VideoHandler) Leave(c *gin.Context) {
	h.transition(c, func(ctx context.Context, chatID, userID, roomID string) error {
		return h.service.OnParticipantLeft(ctx, chatID, roomID, userID)
	})
}

func (h *VideoHandler) transition(c *gin.Context, fn func(ctx context.Context, chatID, userID, roomID string) error) {
	chatID, userID, roomID, ok := h.roomRequest(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), chatID, userID, roomID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *VideoHandler) roomRequest(c *gin.Context) (chatID, userID, roomID string, ok bool) {
	if userID, ok = callerID(c); !ok {
		return
	}
	if chatID, ok = pathParam(c, "id"); !ok {
		return
	}
	var req httpdto.VideoSessionRequest
	if ok = bindJSON(c, &req); !ok {
		return
	}
	return chatID, userID, req.RoomID, true
}
