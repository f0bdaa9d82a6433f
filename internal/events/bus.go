package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Bus fans envelopes out to realtime connections. Publish calls made by one
// goroutine are delivered in call order.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
}

// Sink delivers an envelope to the connections of this process.
type Sink interface {
	Deliver(env Envelope)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error
}

// LocalBus delivers straight to the in-process sink.
type LocalBus struct {
	sink Sink
}

func NewLocalBus(sink Sink) *LocalBus {
	return &LocalBus{sink: sink}
}

func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.sink.Deliver(env)
	return nil
}

// RedisBus publishes envelopes on redis channels; every node, this one
// included, receives them through its subscription.
type RedisBus struct {
	publisher Publisher
}

func NewRedisBus(publisher Publisher) *RedisBus {
	return &RedisBus{publisher: publisher}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.publisher.Publish(ctx, ChannelFor(env), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	return nil
}

// Decode parses an envelope received from a subscription.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

// NopBus discards everything.
type NopBus struct{}

func (NopBus) Publish(context.Context, Envelope) error { return nil }
