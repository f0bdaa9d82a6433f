package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// PubSub carries bus envelopes between processes over redis channels.
type PubSub struct {
	client *redis.Client
}

func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Subscribe pattern-subscribes to channels and calls handler for every
// message until ctx is cancelled, which is not reported as an error.
func (p *PubSub) Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error {
	sub := p.client.PSubscribe(ctx, channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			handler(msg.Channel, []byte(msg.Payload))
		}
	}
}
