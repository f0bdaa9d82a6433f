package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/events"
	"netyora-chat/internal/metrics"
	"netyora-chat/internal/notify"
	"netyora-chat/internal/storage"
	netyora_errors "netyora-chat/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	downloadCacheControl = "private, max-age=31536000, immutable"
	reservationTTL       = 2 * time.Minute
)

// BlobStore holds attachment bytes, addressed by public id.
type BlobStore interface {
	Upload(ctx context.Context, in storage.UploadInput) (storage.Object, error)
	Delete(ctx context.Context, publicID string) error
	Open(ctx context.Context, publicID string) (io.ReadCloser, error)
	RedirectURL(ctx context.Context, publicID string) (string, error)
}

// UploadedFile is a file received from a client.
type UploadedFile struct {
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}

type AttachmentService struct {
	chats    *ChatService
	blobs    BlobStore
	guard    DownloadGuard
	notifier *notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	maxBytes int64
	holdFor  time.Duration
	now      func() time.Time
}

func NewAttachmentService(chats *ChatService, blobs BlobStore, guard DownloadGuard, sink notify.Sink, logger *zap.Logger) *AttachmentService {
	if guard == nil {
		guard = NewMemoryDownloadGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{
		chats:    chats,
		blobs:    blobs,
		guard:    guard,
		notifier: newNotifier(sink, logger),
		logger:   logger,
		maxBytes: 25 << 20,
		holdFor:  reservationTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AttachmentService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	s.notifier.metrics = m
}

// SetReservationTTL sets how long a download reservation lives without being
// refreshed. A stream in progress refreshes it every third of that.
func (s *AttachmentService) SetReservationTTL(d time.Duration) {
	if d > 0 {
		s.holdFor = d
	}
}

func (s *AttachmentService) SetMaxBytes(n int64) {
	if n > 0 {
		s.maxBytes = n
	}
}

// SetClock overrides the wall clock, for tests.
func (s *AttachmentService) SetClock(now func() time.Time) { s.now = now }

// Ingest uploads file and appends it to the chat as an attachment message.
// Nothing is persisted when the upload fails; the blob is destroyed when the
// append fails.
func (s *AttachmentService) Ingest(ctx context.Context, chatID, sender string, file UploadedFile, caption string) (chat.Message, error) {
	if err := s.chats.requireMember(ctx, chatID, sender); err != nil {
		return chat.Message{}, err
	}

	name := chat.SanitizeFileName(file.FileName)
	switch {
	case file.Body == nil:
		return chat.Message{}, netyora_errors.Structural("file")
	case name == "":
		return chat.Message{}, netyora_errors.Structural("fileName")
	case file.MimeType == "":
		return chat.Message{}, netyora_errors.Structural("mimeType")
	case file.Size <= 0:
		return chat.Message{}, netyora_errors.Structural("fileSize")
	case file.Size > s.maxBytes:
		return chat.Message{}, fmt.Errorf("%w: file exceeds %d bytes", netyora_errors.ErrInvalidArgument, s.maxBytes)
	}
	kind := chat.KindForMime(file.MimeType)

	start := time.Now()
	obj, err := s.blobs.Upload(ctx, storage.UploadInput{
		ChatID:      chatID,
		FileName:    name,
		ContentType: file.MimeType,
		Size:        file.Size,
		Body:        file.Body,
	})
	s.metrics.ExternalCall("blob_store", "upload", time.Since(start), err)
	if err != nil {
		return chat.Message{}, netyora_errors.Upstream("blob store", err)
	}

	size := obj.Bytes
	if size <= 0 {
		size = file.Size
	}
	payload := chat.MessagePayload{
		Kind:    kind,
		Content: caption,
		Attachment: &chat.AttachmentInput{
			URL:      obj.URL,
			FileName: name,
			FileSize: size,
			MimeType: file.MimeType,
			PublicID: obj.PublicID,
		},
	}
	msg, participants, err := s.chats.appendMessage(ctx, chatID, sender, payload)
	if err != nil {
		if delErr := s.destroy(context.WithoutCancel(ctx), obj.PublicID); delErr != nil {
			s.logger.Error("Failed to destroy orphaned upload",
				zap.String("public_id", obj.PublicID),
				zap.Error(delErr),
			)
		}
		return chat.Message{}, err
	}

	s.notifier.send(ctx, fanOut(participants, sender, notify.Notification{
		Type:         notify.TypeFileShared,
		ResourceType: "chat",
		ResourceID:   chatID,
		Title:        "New file",
		Message:      chat.Preview(&msg),
		Metadata:     map[string]string{"messageId": msg.ID, "fileName": name, "kind": string(kind)},
	}))
	return msg, nil
}

// DownloadGrant is permission for one user to receive one attachment once.
// Exactly one of Complete or Release must be called.
type DownloadGrant struct {
	ChatID    string
	MessageID string
	UserID    string
	FileName  string
	MimeType  string
	FileSize  int64
	PublicID  string

	svc   *AttachmentService
	key   string
	owner string
}

// AuthorizeDownload checks the at-most-once policy and reserves the download
// for caller. Concurrent first-time requests by the same caller get
// ErrAlreadyDownloaded while one of them holds the reservation.
func (s *AttachmentService) AuthorizeDownload(ctx context.Context, chatID, messageID, caller string) (*DownloadGrant, error) {
	c, err := s.chats.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(caller) {
		s.metrics.Download("forbidden")
		return nil, netyora_errors.ErrNotParticipant
	}
	msg, err := s.chats.repo.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.Kind.IsAttachment() {
		return nil, fmt.Errorf("%w: message has no attachment", netyora_errors.ErrNotFound)
	}
	if msg.Expired(s.now()) {
		s.metrics.Download("gone")
		return nil, netyora_errors.ErrAttachmentExpired
	}
	if msg.DownloadedBy.Contains(caller) {
		s.metrics.Download("forbidden")
		return nil, netyora_errors.ErrAlreadyDownloaded
	}

	key := "download:" + chatID + ":" + messageID + ":" + caller
	owner := uuid.NewString()
	ok, err := s.guard.Reserve(ctx, key, owner, s.holdFor)
	if err != nil {
		return nil, netyora_errors.Upstream("download guard", err)
	}
	if !ok {
		s.metrics.Download("forbidden")
		return nil, netyora_errors.ErrAlreadyDownloaded
	}

	// A concurrent download may have completed and released its reservation
	// between the first read and Reserve.
	msg, err = s.chats.repo.GetMessage(ctx, chatID, messageID)
	if err == nil && msg.DownloadedBy.Contains(caller) {
		err = netyora_errors.ErrAlreadyDownloaded
	}
	if err != nil {
		_ = s.guard.Release(ctx, key, owner)
		return nil, err
	}

	return &DownloadGrant{
		ChatID:    chatID,
		MessageID: messageID,
		UserID:    caller,
		FileName:  msg.FileName,
		MimeType:  msg.MimeType,
		FileSize:  msg.FileSize,
		PublicID:  msg.PublicID,
		svc:       s,
		key:       key,
		owner:     owner,
	}, nil
}

// Complete records the receipt and drops the reservation.
func (g *DownloadGrant) Complete(ctx context.Context) error {
	defer g.Release()
	return g.svc.chats.Mutate(ctx, g.ChatID, func(m *Mutation) error {
		msg, err := m.Tx().GetMessage(g.MessageID)
		if err != nil {
			return err
		}
		// deleted mid-stream: downloadedBy is frozen
		if msg.IsDeleted {
			return netyora_errors.ErrAttachmentExpired
		}
		downloaded, changed := msg.DownloadedBy.Add(g.UserID)
		if !changed {
			return nil
		}
		msg.DownloadedBy = downloaded
		if err := m.Tx().SaveMessage(&msg); err != nil {
			return err
		}
		return m.EmitToRoom(events.TypeMessageEdited, msg.View())
	})
}

// Release abandons the grant without recording anything.
func (g *DownloadGrant) Release() {
	if err := g.svc.guard.Release(context.Background(), g.key, g.owner); err != nil {
		g.svc.logger.Warn("Failed to release download reservation", zap.String("key", g.key), zap.Error(err))
	}
}

// keepAlive refreshes the reservation until the returned stop is called, so a
// stream longer than the reservation TTL still holds it.
func (g *DownloadGrant) keepAlive() (stop func()) {
	every := g.svc.holdFor / 3
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := g.svc.guard.Extend(context.Background(), g.key, g.owner, g.svc.holdFor)
				if err != nil || !ok {
					g.svc.logger.Warn("Failed to extend download reservation",
						zap.String("key", g.key),
						zap.Bool("held", ok),
						zap.Error(err),
					)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Serve streams the attachment to w. When the blob cannot be opened the
// caller is redirected to the blob URL instead, which also counts as
// delivered. A stream cut short records nothing.
func (s *AttachmentService) Serve(ctx context.Context, grant *DownloadGrant, w http.ResponseWriter) error {
	start := time.Now()
	body, err := s.blobs.Open(ctx, grant.PublicID)
	s.metrics.ExternalCall("blob_store", "open", time.Since(start), err)
	if err != nil {
		return s.redirect(ctx, grant, w, err)
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", grant.MimeType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": grant.FileName}))
	h.Set("Cache-Control", downloadCacheControl)
	if grant.FileSize > 0 {
		h.Set("Content-Length", strconv.FormatInt(grant.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)

	stop := grant.keepAlive()
	_, err = io.Copy(w, body)
	stop()
	if err != nil {
		grant.Release()
		s.metrics.Download("cancelled")
		return fmt.Errorf("download interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		grant.Release()
		s.metrics.Download("cancelled")
		return err
	}

	if err := grant.Complete(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	s.metrics.Download("served")
	return nil
}

func (s *AttachmentService) redirect(ctx context.Context, grant *DownloadGrant, w http.ResponseWriter, cause error) error {
	target, err := s.blobs.RedirectURL(ctx, grant.PublicID)
	if err != nil || target == "" {
		grant.Release()
		if err == nil {
			err = cause
		}
		return netyora_errors.Upstream("blob store", err)
	}
	s.logger.Warn("Blob stream unavailable, redirecting",
		zap.String("message_id", grant.MessageID),
		zap.Error(cause),
	)
	if err := grant.Complete(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	w.Header().Set("Cache-Control", downloadCacheControl)
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
	s.metrics.Download("redirected")
	return nil
}

// ManualDelete purges an attachment on behalf of a participant. Purging an
// already deleted attachment succeeds without touching the blob store. A
// purge that reached the blob store always commits, even if ctx ends.
func (s *AttachmentService) ManualDelete(ctx context.Context, chatID, messageID, caller string) error {
	ctx = context.WithoutCancel(ctx)
	var (
		participants []string
		purged       bool
		fileName     string
	)
	err := s.chats.Mutate(ctx, chatID, func(m *Mutation) error {
		if err := m.RequireParticipant(caller); err != nil {
			return err
		}
		msg, err := m.Tx().GetMessage(messageID)
		if err != nil {
			return err
		}
		if !msg.Kind.IsAttachment() {
			return fmt.Errorf("%w: message has no attachment", netyora_errors.ErrNotFound)
		}
		if msg.IsDeleted {
			return nil
		}
		if err := s.markDeleted(ctx, m, &msg); err != nil {
			return err
		}
		participants = append([]string{}, m.Chat().Participants...)
		purged, fileName = true, msg.FileName
		return nil
	})
	if err != nil || !purged {
		return err
	}

	s.notifier.send(ctx, fanOut(participants, caller, notify.Notification{
		Type:         notify.TypeFileDeleted,
		ResourceType: "chat",
		ResourceID:   chatID,
		Title:        "File deleted",
		Message:      fileName + " was deleted",
		Metadata:     map[string]string{"messageId": messageID, "reason": "manual"},
	}))
	return nil
}

// markDeleted destroys the blob, then flips isDeleted. A failed destroy leaves
// the message untouched so a later pass retries it.
func (s *AttachmentService) markDeleted(ctx context.Context, m *Mutation, msg *chat.Message) error {
	if err := s.destroy(ctx, msg.PublicID); err != nil {
		return netyora_errors.Upstream("blob store", err)
	}
	msg.IsDeleted = true
	if err := m.Tx().SaveMessage(msg); err != nil {
		return err
	}
	return m.EmitToRoom(events.TypeMessageEdited, msg.View())
}

func (s *AttachmentService) destroy(ctx context.Context, publicID string) error {
	start := time.Now()
	err := s.blobs.Delete(ctx, publicID)
	s.metrics.ExternalCall("blob_store", "delete", time.Since(start), err)
	return err
}

type SweepResult struct {
	Chats   int `json:"chats"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

func (r *SweepResult) Add(o SweepResult) {
	r.Chats += o.Chats
	r.Deleted += o.Deleted
	r.Failed += o.Failed
}

// ExpiredChats lists chats holding attachments due at now.
func (s *AttachmentService) ExpiredChats(ctx context.Context, now time.Time) ([]string, error) {
	return s.chats.repo.ChatsWithExpiredAttachments(ctx, now)
}

// Sweep deletes every attachment due at now, one chat at a time. It stops
// between chats when ctx is cancelled.
func (s *AttachmentService) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ids, err := s.ExpiredChats(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	var total SweepResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.SweepChat(ctx, id, now)
		total.Add(res)
		if err != nil {
			s.logger.Error("Sweep failed for chat", zap.String("chat_id", id), zap.Error(err))
		}
	}
	return total, nil
}

// SweepChat deletes the chat's attachments due at now. Once started the pass
// runs to the end regardless of ctx, and every attachment commits in its own
// transaction so a later failure never undoes an earlier deletion.
func (s *AttachmentService) SweepChat(ctx context.Context, chatID string, now time.Time) (SweepResult, error) {
	ctx = context.WithoutCancel(ctx)
	res := SweepResult{Chats: 1}
	skip := make(map[string]struct{})
	var (
		notes    []notify.Notification
		firstErr error
	)
	for {
		var (
			target       *chat.Message
			participants []string
		)
		err := s.chats.Mutate(ctx, chatID, func(m *Mutation) error {
			due, err := m.Tx().ExpiredAttachments(now)
			if err != nil {
				return err
			}
			for i := range due {
				if _, failed := skip[due[i].ID]; !failed {
					target = &due[i]
					break
				}
			}
			if target == nil {
				return nil
			}
			participants = append([]string{}, m.Chat().Participants...)
			return s.markDeleted(ctx, m, target)
		})
		if target == nil {
			if err != nil && firstErr == nil {
				firstErr = err
			}
			break
		}
		if err != nil {
			skip[target.ID] = struct{}{}
			res.Failed++
			if !errors.Is(err, netyora_errors.ErrUpstream) && firstErr == nil {
				firstErr = err
			}
			s.logger.Warn("Attachment delete failed, will retry",
				zap.String("chat_id", chatID),
				zap.String("message_id", target.ID),
				zap.Error(err),
			)
			continue
		}
		res.Deleted++
		notes = append(notes, fanOut(participants, "", notify.Notification{
			Type:         notify.TypeFileDeleted,
			ResourceType: "chat",
			ResourceID:   chatID,
			Title:        "File expired",
			Message:      target.FileName + " expired and was deleted",
			Metadata:     map[string]string{"messageId": target.ID, "reason": "expired"},
		})...)
	}
	s.notifier.send(ctx, notes)
	return res, firstErr
}
