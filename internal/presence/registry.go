// Package presence tracks which users hold live realtime connections on this
// process. State is in memory only; other processes learn about transitions
// through the broadcasts the registry emits.
package presence

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	netyora_errors "netyora-chat/pkg/errors"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// ParseStatus accepts the statuses a connected user may choose.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusOnline, StatusAway, StatusBusy:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", netyora_errors.ErrInvalidArgument, s)
}

// State is a snapshot of one user's presence.
type State struct {
	UserID      string
	IsOnline    bool
	Status      Status
	LastSeen    time.Time
	Connections int
}

// Broadcaster receives every presence transition. It is called after the
// registry has released its locks.
type Broadcaster interface {
	PresenceChanged(state State)
}

type BroadcasterFunc func(state State)

func (f BroadcasterFunc) PresenceChanged(state State) { f(state) }

const shardCount = 32

type entry struct {
	status   Status
	lastSeen time.Time
	conns    map[string]struct{}
}

type shard struct {
	mu    sync.Mutex
	users map[string]*entry
}

type Registry struct {
	shards      [shardCount]shard
	broadcaster Broadcaster
	now         func() time.Time
}

func NewRegistry(b Broadcaster) *Registry {
	r := &Registry{broadcaster: b, now: func() time.Time { return time.Now().UTC() }}
	for i := range r.shards {
		r.shards[i].users = make(map[string]*entry)
	}
	return r
}

// SetBroadcaster replaces the broadcaster. It must be called before the
// registry is shared between goroutines.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// SetClock overrides the wall clock, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

// Attach registers connID for userID and marks the user online with status.
// Any status a connected user may not hold counts as online.
func (r *Registry) Attach(userID, connID string, status Status) State {
	if _, err := ParseStatus(string(status)); err != nil {
		status = StatusOnline
	}
	s := r.shardFor(userID)

	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		s.users[userID] = e
	}
	wasOnline := len(e.conns) > 0
	changed := !wasOnline || e.status != status
	e.conns[connID] = struct{}{}
	e.status = status
	e.lastSeen = r.now()
	state := e.snapshot(userID)
	s.mu.Unlock()

	if changed {
		r.emit(state)
	}
	return state
}

// SetStatus changes the status of an online user. Offline users are left alone.
func (r *Registry) SetStatus(userID string, status Status) (State, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return State{}, err
	}
	s := r.shardFor(userID)

	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok || len(e.conns) == 0 {
		s.mu.Unlock()
		return r.Get(userID), nil
	}
	changed := e.status != status
	e.status = status
	state := e.snapshot(userID)
	s.mu.Unlock()

	if changed {
		r.emit(state)
	}
	return state, nil
}

// Detach removes connID. When it was the user's last connection the user
// goes offline with lastSeen set to now.
func (r *Registry) Detach(userID, connID string) State {
	s := r.shardFor(userID)

	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return State{UserID: userID, Status: StatusOffline}
	}
	if _, held := e.conns[connID]; !held {
		state := e.snapshot(userID)
		s.mu.Unlock()
		return state
	}
	delete(e.conns, connID)
	wentOffline := len(e.conns) == 0
	if wentOffline {
		e.status = StatusOffline
		e.lastSeen = r.now()
	}
	state := e.snapshot(userID)
	s.mu.Unlock()

	if wentOffline {
		r.emit(state)
	}
	return state
}

func (r *Registry) Get(userID string) State {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		return State{UserID: userID, Status: StatusOffline}
	}
	return e.snapshot(userID)
}

func (r *Registry) IsOnline(userID string) bool {
	return r.Get(userID).IsOnline
}

// OnlineStatus returns the status string shown in participant projections.
func (r *Registry) OnlineStatus(userID string) string {
	return string(r.Get(userID).Status)
}

// Snapshot lists every user currently online.
func (r *Registry) Snapshot() []State {
	var out []State
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, e := range s.users {
			if len(e.conns) > 0 {
				out = append(out, e.snapshot(id))
			}
		}
		s.mu.Unlock()
	}
	return out
}

func (r *Registry) emit(state State) {
	if r.broadcaster != nil {
		r.broadcaster.PresenceChanged(state)
	}
}

func (e *entry) snapshot(userID string) State {
	return State{
		UserID:      userID,
		IsOnline:    len(e.conns) > 0,
		Status:      e.status,
		LastSeen:    e.lastSeen,
		Connections: len(e.conns),
	}
}
