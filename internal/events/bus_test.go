package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct{ got []Envelope }

func (s *recordingSink) Deliver(env Envelope) { s.got = append(s.got, env) }

type fakePublisher struct {
	channels []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestChannelFor(t *testing.T) {
	room, _ := ToRoom("c1", TypeMessage, map[string]string{})
	user, _ := ToUser("u1", TypeError, ErrorPayload{})
	all, _ := ToAll(TypeUserOnlineStatus, PresencePayload{})

	assert.Equal(t, "channel:chat:c1", ChannelFor(room))
	assert.Equal(t, "channel:user:u1", ChannelFor(user))
	assert.Equal(t, "channel:presence", ChannelFor(all))
	assert.True(t, IsEventChannel(ChannelFor(room)))
	assert.False(t, IsEventChannel("other"))
}

func TestLocalBusPreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	bus := NewLocalBus(sink)
	for _, id := range []string{"m1", "m2", "m3"} {
		env, err := ToRoom("c1", TypeMessage, map[string]string{"id": id})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), env))
	}
	require.Len(t, sink.got, 3)
	assert.JSONEq(t, `{"id":"m1"}`, string(sink.got[0].Payload))
	assert.JSONEq(t, `{"id":"m3"}`, string(sink.got[2].Payload))
}

func TestRedisBusRoundTrip(t *testing.T) {
	pub := &fakePublisher{}
	bus := NewRedisBus(pub)
	env, err := ToRoom("c1", TypeTyping, TypingPayload{ChatID: "c1", UserID: "u1", IsTyping: true})
	require.NoError(t, err)
	env.ExceptUser = "u1"
	env.Advisory = true

	require.NoError(t, bus.Publish(context.Background(), env))
	require.Equal(t, []string{"channel:chat:c1"}, pub.channels)

	decoded, err := Decode(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "c1", decoded.Room)
	assert.Equal(t, "u1", decoded.ExceptUser)
	assert.True(t, decoded.Advisory)

	frame, err := decoded.Frame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","data":{"chatId":"c1","userId":"u1","isTyping":true}}`, string(frame))
}

func TestRedisBusPublishError(t *testing.T) {
	bus := NewRedisBus(&fakePublisher{err: errors.New("down")})
	env, _ := ToAll(TypeUserOnlineStatus, PresencePayload{UserID: "u1"})
	assert.Error(t, bus.Publish(context.Background(), env))
}
