package services_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"netyora-chat/internal/events"
	"netyora-chat/internal/notify"
	"netyora-chat/internal/repository"
	"netyora-chat/internal/services"
	"netyora-chat/internal/storage"
	"netyora-chat/internal/testutil"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type recordingSink struct {
	mu  sync.Mutex
	got []events.Envelope
}

func (s *recordingSink) Deliver(env events.Envelope) {
	s.mu.Lock()
	s.got = append(s.got, env)
	s.mu.Unlock()
}

func (s *recordingSink) ofType(eventType string) []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Envelope
	for _, env := range s.got {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deletes   map[string]int
	failPut   bool
	failDel   bool
	failOpen  bool
	redirects int
	onDelete  func()
	openGate  chan struct{}
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}, deletes: map[string]int{}}
}

func (f *fakeBlobStore) Upload(_ context.Context, in storage.UploadInput) (storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return storage.Object{}, errors.New("upload refused")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return storage.Object{}, err
	}
	id := "chat/" + in.ChatID + "/" + uuid.NewString()
	f.objects[id] = data
	return storage.Object{URL: "https://blobs.example/" + id, PublicID: id, Bytes: int64(len(data))}, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, publicID string) error {
	f.mu.Lock()
	if f.failDel {
		f.mu.Unlock()
		return errors.New("delete refused")
	}
	f.deletes[publicID]++
	delete(f.objects, publicID)
	hook := f.onDelete
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeBlobStore) Open(_ context.Context, publicID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return nil, errors.New("open refused")
	}
	data, ok := f.objects[publicID]
	if !ok {
		return nil, errors.New("no such object")
	}
	if f.openGate != nil {
		return io.NopCloser(&gatedReader{gate: f.openGate, r: bytes.NewReader(data)}), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// gatedReader blocks its first read until gate is closed.
type gatedReader struct {
	gate <-chan struct{}
	r    io.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	<-g.gate
	return g.r.Read(p)
}

func (f *fakeBlobStore) RedirectURL(_ context.Context, publicID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects++
	return "https://blobs.example/" + publicID, nil
}

func (f *fakeBlobStore) deleteCount(publicID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[publicID]
}

type fakeTokens struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	calls int
}

func (f *fakeTokens) Issue(ctx context.Context, userID, _, roomID string, _ time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	err, delay := f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "token-" + userID + "-" + roomID, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
	err   error
}

func (r *recordingNotifier) SendBulk(_ context.Context, notes []notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notes...)
	return r.err
}

func (r *recordingNotifier) ofType(t notify.NotificationType) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.notes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// clock is a settable wall clock shared by the services under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db          *gorm.DB
	chatRepo    repository.ChatRepository
	chats       *services.ChatService
	attachments *services.AttachmentService
	video       *services.VideoService
	events      *recordingSink
	blobs       *fakeBlobStore
	tokens      *fakeTokens
	notes       *recordingNotifier
	clock       *clock
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedUsers(t, db, users...)

	f := &fixture{
		db:       db,
		chatRepo: repository.NewChatRepository(db),
		events:   &recordingSink{},
		blobs:    newFakeBlobStore(),
		tokens:   &fakeTokens{},
		notes:    &recordingNotifier{},
		clock:    &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	userRepo := repository.NewUserRepository(db)

	f.chats = services.NewChatService(f.chatRepo, userRepo, events.NewLocalBus(f.events), nil)
	f.chats.SetClock(f.clock.Now)

	f.attachments = services.NewAttachmentService(f.chats, f.blobs, services.NewMemoryDownloadGuard(), f.notes, nil)
	f.attachments.SetClock(f.clock.Now)

	f.video = services.NewVideoService(f.chats, userRepo, repository.NewSwapRepository(db), f.tokens, f.notes, "https://app.netyora.test", nil)
	return f
}

func (f *fixture) personalChat(t *testing.T, a, b string) string {
	t.Helper()
	c, _, err := f.chats.OpenOrFindPersonalChat(context.Background(), a, b)
	if err != nil {
		t.Fatalf("open personal chat: %v", err)
	}
	return c.ID
}
