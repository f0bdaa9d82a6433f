package services

import "sync"

// chatLocks serializes mutations of one chat within this process. The row
// lock taken by the repository covers other processes.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*chatLock)}
}

// Lock blocks until chatID is free and returns the unlock function.
func (l *chatLocks) Lock(chatID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[chatID]
	if !ok {
		lk = &chatLock{}
		l.locks[chatID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}
