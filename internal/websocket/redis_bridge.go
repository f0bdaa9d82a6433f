package websocket

import (
	"context"

	"netyora-chat/internal/events"

	"go.uber.org/zap"
)

// RedisBridge feeds envelopes published by any node into the local hub.
type RedisBridge struct {
	subscriber events.Subscriber
	sink       events.Sink
	logger     *zap.Logger
}

func NewRedisBridge(subscriber events.Subscriber, sink events.Sink, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{subscriber: subscriber, sink: sink, logger: logger}
}

func (b *RedisBridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, []string{events.ChannelPattern}, func(channel string, payload []byte) {
		if !events.IsEventChannel(channel) {
			return
		}
		env, err := events.Decode(payload)
		if err != nil {
			b.logger.Warn("Dropping undecodable envelope", zap.String("channel", channel), zap.Error(err))
			return
		}
		b.sink.Deliver(env)
	})
}
