package services

import (
	"context"
	"sync"
	"time"
)

// InboxCache holds encoded chat-list pages per user. Entries live at most
// the configured TTL and are dropped for every participant of a chat on write.
type InboxCache interface {
	Get(ctx context.Context, userID, key string) ([]byte, bool)
	Set(ctx context.Context, userID, key string, value []byte)
	Invalidate(ctx context.Context, userIDs ...string)
}

type NopInboxCache struct{}

func (NopInboxCache) Get(context.Context, string, string) ([]byte, bool) { return nil, false }
func (NopInboxCache) Set(context.Context, string, string, []byte) {}
func (NopInboxCache) Invalidate(context.Context, ...string) {}

type memoryInboxEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryInboxCache is the single-node InboxCache.
type MemoryInboxCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	users map[string]map[string]memoryInboxEntry
	now   func() time.Time
}

func NewMemoryInboxCache(ttl time.Duration) *MemoryInboxCache {
	return &MemoryInboxCache{
		ttl:   ttl,
		users: make(map[string]map[string]memoryInboxEntry),
		now:   time.Now,
	}
}

func (c *MemoryInboxCache) Get(_ context.Context, userID, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.users[userID][key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.users[userID], key)
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryInboxCache) Set(_ context.Context, userID, key string, value []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pages, ok := c.users[userID]
	if !ok {
		pages = make(map[string]memoryInboxEntry)
		c.users[userID] = pages
	}
	pages[key] = memoryInboxEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryInboxCache) Invalidate(_ context.Context, userIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.users, id)
	}
}
