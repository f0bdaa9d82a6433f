package services

import (
	"context"
	"sync"
	"time"
)

// DownloadGuard reserves an in-flight download so that concurrent first-time
// requests by the same user for the same attachment let only one through.
// owner identifies the request holding the reservation; Extend and Release
// act only while owner still holds it.
type DownloadGuard interface {
	Reserve(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type reservation struct {
	owner string
	until time.Time
}

// MemoryDownloadGuard is the single-node DownloadGuard.
type MemoryDownloadGuard struct {
	mu       sync.Mutex
	inFlight map[string]reservation
	now      func() time.Time
}

func NewMemoryDownloadGuard() *MemoryDownloadGuard {
	return &MemoryDownloadGuard{inFlight: make(map[string]reservation), now: time.Now}
}

func (g *MemoryDownloadGuard) Reserve(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if r, ok := g.inFlight[key]; ok && now.Before(r.until) {
		return false, nil
	}
	g.inFlight[key] = reservation{owner: owner, until: now.Add(ttl)}
	return true, nil
}

func (g *MemoryDownloadGuard) Extend(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	r, ok := g.inFlight[key]
	if !ok || r.owner != owner || !now.Before(r.until) {
		return false, nil
	}
	r.until = now.Add(ttl)
	g.inFlight[key] = r
	return true, nil
}

func (g *MemoryDownloadGuard) Release(_ context.Context, key, owner string) error {
	g.mu.Lock()
	if r, ok := g.inFlight[key]; ok && r.owner == owner {
		delete(g.inFlight, key)
	}
	g.mu.Unlock()
	return nil
}
