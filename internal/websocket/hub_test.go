package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"netyora-chat/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(id, userID string, queue int) *Client {
	return &Client{
		ID:      id,
		UserID:  userID,
		send:    make(chan []byte, queue),
		limiter: newConnLimiter(),
		rooms:   make(map[string]struct{}),
	}
}

func drain(c *Client) []events.Frame {
	var out []events.Frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var f events.Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func mustEnvelope(t *testing.T) func(events.Envelope, error) events.Envelope {
	return func(env events.Envelope, err error) events.Envelope {
		t.Helper()
		require.NoError(t, err)
		return env
	}
}

func TestHubDeliverTargets(t *testing.T) {
	h := NewHub(nil, nil)
	env := mustEnvelope(t)

	a1 := testClient("a1", "alice", 8)
	a2 := testClient("a2", "alice", 8)
	b := testClient("b", "bob", 8)
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
	}
	h.Join(a1, "chat-1")
	h.Join(b, "chat-1")

	h.Deliver(env(events.ToRoom("chat-1", events.TypeMessage, map[string]string{"id": "m1"})))
	h.Deliver(env(events.ToUser("alice", events.TypeChatRead, map[string]string{"chatId": "chat-1"})))
	h.Deliver(env(events.ToAll(events.TypeUserOnlineStatus, map[string]string{"userId": "carol"})))

	names := func(frames []events.Frame) []string {
		var out []string
		for _, f := range frames {
			out = append(out, f.Event)
		}
		return out
	}
	assert.Equal(t, []string{events.TypeMessage, events.TypeChatRead, events.TypeUserOnlineStatus}, names(drain(a1)))
	assert.Equal(t, []string{events.TypeChatRead, events.TypeUserOnlineStatus}, names(drain(a2)))
	assert.Equal(t, []string{events.TypeMessage, events.TypeUserOnlineStatus}, names(drain(b)))
}

func TestHubExceptUser(t *testing.T) {
	h := NewHub(nil, nil)
	a := testClient("a", "alice", 4)
	b := testClient("b", "bob", 4)
	h.Register(a)
	h.Register(b)
	h.Join(a, "chat-1")
	h.Join(b, "chat-1")

	env, err := events.ToRoom("chat-1", events.TypeTyping, events.TypingPayload{ChatID: "chat-1", UserID: "alice", IsTyping: true})
	require.NoError(t, err)
	env.ExceptUser = "alice"
	h.Deliver(env)

	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"chatId":"chat-1","userId":"alice","isTyping":true}`, string(got[0].Data))
}

func TestHubLeftChatEvictsMember(t *testing.T) {
	h := NewHub(nil, nil)
	env := mustEnvelope(t)
	a := testClient("a", "alice", 8)
	c1 := testClient("c1", "carol", 8)
	c2 := testClient("c2", "carol", 8)
	for _, c := range []*Client{a, c1, c2} {
		h.Register(c)
		h.Join(c, "chat-1")
	}
	h.Join(c1, "chat-2")

	h.Deliver(env(events.ToRoom("chat-1", events.TypeLeftChat, events.MembershipPayload{ChatID: "chat-1", UserID: "carol"})))
	assert.Len(t, drain(c1), 1)
	assert.Len(t, drain(c2), 1)
	assert.False(t, h.InRoom(c1, "chat-1"))
	assert.False(t, h.InRoom(c2, "chat-1"))
	assert.True(t, h.InRoom(c1, "chat-2"))
	assert.Equal(t, 1, h.RoomSize("chat-1"))

	h.Deliver(env(events.ToRoom("chat-1", events.TypeMessage, map[string]string{"id": "m2"})))
	assert.Empty(t, drain(c1))
	assert.Empty(t, drain(c2))
	assert.Len(t, drain(a), 2)
}

func TestHubSlowConsumer(t *testing.T) {
	h := NewHub(nil, nil)
	slow := testClient("slow", "alice", 1)
	h.Register(slow)
	h.Join(slow, "chat-1")

	advisory, err := events.ToRoom("chat-1", events.TypeTyping, events.TypingPayload{ChatID: "chat-1"})
	require.NoError(t, err)
	advisory.Advisory = true

	h.Deliver(advisory)
	h.Deliver(advisory)
	assert.False(t, slow.Kicked(), "advisory overflow is dropped")

	critical, err := events.ToRoom("chat-1", events.TypeMessage, map[string]string{"id": "m1"})
	require.NoError(t, err)
	h.Deliver(critical)
	assert.True(t, slow.Kicked(), "a lost message disconnects the client")
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(nil, nil)
	c := testClient("c", "alice", 1)
	h.Register(c)
	h.Join(c, "chat-1")
	assert.Equal(t, 1, h.RoomSize("chat-1"))

	assert.True(t, h.Unregister(c))
	assert.False(t, h.Unregister(c))
	assert.Zero(t, h.RoomSize("chat-1"))
	assert.Zero(t, h.ClientCount())

	// joining after unregister is ignored
	h.Join(c, "chat-2")
	assert.Zero(t, h.RoomSize("chat-2"))
}

func TestConnLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newConnLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(eventTyping))
	}
	assert.False(t, l.Allow(eventTyping))
	assert.True(t, l.Allow(eventAuthenticate), "unlisted events are not limited")

	now = now.Add(time.Second)
	assert.True(t, l.Allow(eventTyping))
	assert.True(t, l.Allow(eventTyping))
	assert.False(t, l.Allow(eventTyping))
}
