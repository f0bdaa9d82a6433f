package handler

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"netyora-chat/internal/services"
	"netyora-chat/internal/transport/httpdto"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// multipartOverhead is allowed on top of the file size limit for form fields
// and boundaries.
const multipartOverhead = 1 << 20

type AttachmentHandler struct {
	service  *services.AttachmentService
	maxBytes int64
}

func NewAttachmentHandler(service *services.AttachmentService, maxBytes int64) *AttachmentHandler {
	return &AttachmentHandler{service: service, maxBytes: maxBytes}
}

// Upload accepts a multipart form with a "file" part, an optional
// "fileName" override and an optional "content" caption.
func (h *AttachmentHandler) Upload(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	chatID, ok := pathParam(c, "id")
	if !ok {
		return
	}
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(netyora_errors.ErrInvalidArgument)
			return
		}
		_ = c.Error(netyora_errors.Structural("file"))
		return
	}

	name := header.Filename
	if override, ok := c.GetPostForm("fileName"); ok {
		name = override
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
			mimeType = byExt
		}
	}

	body, err := header.Open()
	if err != nil {
		_ = c.Error(netyora_errors.Structural("file"))
		return
	}
	defer body.Close()

	msg, err := h.service.Ingest(c.Request.Context(), chatID, userID, services.UploadedFile{
		FileName: name,
		MimeType: mimeType,
		Size:     header.Size,
		Body:     body,
	}, c.PostForm("content"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(msg.View()))
}

// Download streams the attachment once per caller.
func (h *AttachmentHandler) Download(c *gin.Context) {
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
	grant, err := h.service.AuthorizeDownload(c.Request.Context(), chatID, messageID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Serve(c.Request.Context(), grant, c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (h *AttachmentHandler) Purge(c *gin.Context) {
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
	if err := h.service.ManualDelete(c.Request.Context(), chatID, messageID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}
