package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"netyora-chat/config"
	"netyora-chat/internal/events"
	"netyora-chat/internal/handler"
	"netyora-chat/internal/notify"
	"netyora-chat/internal/redis"
	"netyora-chat/internal/repository"
	"netyora-chat/internal/server"
	"netyora-chat/internal/services"
	"netyora-chat/internal/storage"
	"netyora-chat/internal/testutil"
	"netyora-chat/internal/video"
	"netyora-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBlobs) Upload(_ context.Context, in storage.UploadInput) (storage.Object, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return storage.Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.ChatID + "/" + in.FileName
	m.objects[id] = data
	return storage.Object{URL: "https://blobs.example/" + id, PublicID: id, Bytes: int64(len(data))}, nil
}

func (m *memoryBlobs) Delete(_ context.Context, publicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, publicID)
	return nil
}

func (m *memoryBlobs) Open(_ context.Context, publicID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[publicID]
	if !ok {
		return nil, errors.New("missing object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobs) RedirectURL(_ context.Context, publicID string) (string, error) {
	return "https://blobs.example/" + publicID, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(_ context.Context, _ redis.Action, _ string) (*redis.RateLimitResult, error) {
	return &redis.RateLimitResult{Allowed: false, Remaining: 0, ResetIn: 30 * time.Second, Limit: 60}, nil
}

type api struct {
	t        *testing.T
	handler  http.Handler
	identity *services.IdentityService
}

func newAPI(t *testing.T, deps func(*server.RouteDeps), users ...string) *api {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedUsers(t, db, users...)
	testutil.SeedSwap(t, db, "swap-1", "u1", "u2")

	userRepo := repository.NewUserRepository(db)
	chats := services.NewChatService(repository.NewChatRepository(db), userRepo, events.NopBus{}, nil)
	attachments := services.NewAttachmentService(chats, &memoryBlobs{objects: map[string][]byte{}}, services.NewMemoryDownloadGuard(), notify.NopSink{}, nil)
	videos := services.NewVideoService(chats, userRepo, repository.NewSwapRepository(db),
		video.NewLiveKitIssuer("test-app", "test-secret-that-is-long-enough-for-hmac"), notify.NopSink{}, "https://app.example", nil)

	identity := services.NewIdentityService("test-signing-key")
	cfg := &config.Config{AppPort: "0", AppMode: server.TestMode, FrontendURL: "https://app.example"}
	srv := server.New(cfg, logger.NewNop())

	routeDeps := server.RouteDeps{Identity: identity}
	if deps != nil {
		deps(&routeDeps)
	}
	srv.SetupRoutes(&server.Handlers{
		Chat:       handler.NewChatHandler(chats),
		Message:    handler.NewMessageHandler(chats, videos),
		Attachment: handler.NewAttachmentHandler(attachments, 1<<20),
		Video:      handler.NewVideoHandler(videos),
	}, routeDeps)

	return &api{t: t, handler: srv.Handler(), identity: identity}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	RequestID string          `json:"requestId"`
}

func (a *api) do(user, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		token, err := a.identity.IssueAccessToken(user, time.Hour)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *api) json(user, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	rec := a.do(user, method, path, reader, "application/json")
	var env envelope
	if rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (a *api) openChat(from, to string) string {
	a.t.Helper()
	rec, env := a.json(from, http.MethodPost, "/chat", map[string]string{"recipient": to})
	require.Contains(a.t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	var out struct {
		Chat struct {
			ID string `json:"id"`
		} `json:"chat"`
	}
	require.NoError(a.t, json.Unmarshal(env.Data, &out))
	return out.Chat.ID
}

func upload(t *testing.T, fileName string, override *string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if override != nil {
		require.NoError(t, w.WriteField("fileName", *override))
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestPingAndRequestID(t *testing.T) {
	a := newAPI(t, nil)
	rec := a.do("", http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRequiresCredential(t *testing.T) {
	a := newAPI(t, nil, "u1")
	rec, env := a.json("", http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "UNAUTHENTICATED", env.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), env.RequestID)
}

func TestCreatePersonalChat(t *testing.T) {
	a := newAPI(t, nil, "u1", "u2")

	rec, env := a.json("u1", http.MethodPost, "/chat", map[string]string{"recipient": "u2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), `"created":true`)

	rec, env = a.json("u2", http.MethodPost, "/chat", map[string]string{"recipient": "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"created":false`)

	rec, env = a.json("u1", http.MethodPost, "/chat", map[string]string{"recipient": "u1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SELF_CHAT_FORBIDDEN", env.Code)

	rec, env = a.json("u1", http.MethodPost, "/chat", map[string]string{"recipient": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PEER_NOT_FOUND", env.Code)

	rec, env = a.json("u1", http.MethodPost, "/chat", map[string]string{"kind": "channel"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", env.Code)
}

func TestMessagesAndReadState(t *testing.T) {
	a := newAPI(t, nil, "u1", "u2", "u3")
	chatID := a.openChat("u1", "u2")

	rec, _ := a.json("u1", http.MethodPost, "/chat/"+chatID+"/message", map[string]string{"content": "hi there"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := a.json("u1", http.MethodPost, "/chat/"+chatID+"/message", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", env.Code)

	_, env = a.json("u2", http.MethodGet, "/chat/"+chatID+"/unread", nil)
	assert.JSONEq(t, `{"chatId":"`+chatID+`","unread":1}`, string(env.Data))

	rec, _ = a.json("u2", http.MethodPost, "/chat/"+chatID+"/read", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, env = a.json("u2", http.MethodGet, "/chat/"+chatID+"/unread", nil)
	assert.JSONEq(t, `{"chatId":"`+chatID+`","unread":0}`, string(env.Data))

	rec, env = a.json("u2", http.MethodGet, "/chat/"+chatID+"/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"content":"hi there"`)

	rec, env = a.json("u3", http.MethodGet, "/chat/"+chatID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Code)

	rec, _ = a.json("u2", http.MethodGet, "/chat/"+chatID+"/messages?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndDownloadOnce(t *testing.T) {
	a := newAPI(t, nil, "u1", "u2")
	chatID := a.openChat("u1", "u2")

	empty := ""
	body, ct := upload(t, "notes.pdf", &empty, []byte("%PDF-1.4"))
	rec := a.do("u1", http.MethodPost, "/chat/"+chatID+"/message/file", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"code":"STRUCTURAL_ERROR"`)

	_, env := a.json("u1", http.MethodGet, "/chat/"+chatID+"/messages", nil)
	assert.NotContains(t, string(env.Data), `"kind":"pdf"`)

	body, ct = upload(t, "notes.pdf", nil, []byte("%PDF-1.4"))
	rec = a.do("u1", http.MethodPost, "/chat/"+chatID+"/message/file", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	var msg struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(created.Data, &msg))
	assert.Equal(t, "pdf", msg.Kind)

	path := "/chat/" + chatID + "/message/" + msg.ID + "/download"
	rec = a.do("u2", http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Equal(t, "private, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))

	rec = a.do("u2", http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ALREADY_DOWNLOADED"`)

	rec, _ = a.json("u2", http.MethodDelete, "/chat/"+chatID+"/message/"+msg.ID+"/file", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do("u1", http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestVideoSessionRoutes(t *testing.T) {
	a := newAPI(t, nil, "u1", "u2", "u3")
	chatID := a.openChat("u1", "u2")

	rec, env := a.json("u1", http.MethodPost, "/chat/"+chatID+"/video-session", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session struct {
		RoomID  string `json:"roomId"`
		Token   string `json:"token"`
		JoinURL string `json:"joinUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "https://app.example/video-call/"+session.RoomID, session.JoinURL)

	rec, _ = a.json("u2", http.MethodPost, "/chat/"+chatID+"/video-session/join", map[string]string{"roomId": session.RoomID})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.json("u1", http.MethodPost, "/chat/"+chatID+"/video-session/end", map[string]string{"roomId": session.RoomID})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.json("u2", http.MethodPost, "/chat/"+chatID+"/video-session/join", map[string]string{"roomId": session.RoomID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", env.Code)

	rec, _ = a.json("u1", http.MethodPost, "/chat/"+chatID+"/video-session/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.json("u3", http.MethodPost, "/swap/swap-1/video-session", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = a.json("u1", http.MethodPost, "/swap/nope/video-session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = a.json("u2", http.MethodPost, "/swap/swap-1/video-session", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	a := newAPI(t, func(d *server.RouteDeps) { d.Limiter = denyLimiter{} }, "u1", "u2")
	chatID := a.openChat("u1", "u2")

	rec, env := a.json("u1", http.MethodPost, "/chat/"+chatID+"/message", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "30", rec.Header().Get("X-RateLimit-Reset"))

	// reads are not limited
	rec, _ = a.json("u1", http.MethodGet, "/chat/"+chatID+"/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	a := newAPI(t, func(d *server.RouteDeps) {
		d.Health = func(context.Context) error { return errors.New("database down") }
	}, "u1", "u2")
	rec, env := a.json("", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNHEALTHY", env.Code)
}
