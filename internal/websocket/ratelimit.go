package websocket

import (
	"sync"
	"time"
)

// Per-connection budgets, refilled continuously. Advisory events beyond the
// budget are dropped silently; commands beyond it are rejected.
type bucketSpec struct {
	burst  float64
	perSec float64
}

var eventBuckets = map[string]bucketSpec{
	eventTyping:              {burst: 10, perSec: 2},
	eventStartVoiceRecording: {burst: 5, perSec: 1},
	eventStopVoiceRecording:  {burst: 5, perSec: 1},
	eventVoiceMessagePlayed:  {burst: 20, perSec: 2},
	eventSendMessage:         {burst: 30, perSec: 1},
	eventSendVoiceMessage:    {burst: 10, perSec: 0.5},
	eventUpdateStatus:        {burst: 10, perSec: 0.5},
	eventJoinChat:            {burst: 50, perSec: 5},
}

type bucket struct {
	tokens float64
	last   time.Time
}

// connLimiter holds one token bucket per event name.
type connLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func newConnLimiter() *connLimiter {
	return &connLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

func (l *connLimiter) Allow(event string) bool {
	cfg, ok := eventBuckets[event]
	if !ok {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[event]
	if !ok {
		b = &bucket{tokens: cfg.burst, last: now}
		l.buckets[event] = b
	}
	b.tokens = min(cfg.burst, b.tokens+now.Sub(b.last).Seconds()*cfg.perSec)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
