package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InboxCache keeps each user's chat-list pages in one hash, inbox:{user_id},
// so a write to any of the user's chats drops all of them with one DEL.
type InboxCache struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewInboxCache(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *InboxCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxCache{client: client, ttl: ttl, logger: logger}
}

func inboxKey(userID string) string {
	return "inbox:" + userID
}

func (c *InboxCache) Get(ctx context.Context, userID, key string) ([]byte, bool) {
	data, err := c.client.HGet(ctx, inboxKey(userID), key).Bytes()
	if err == goredis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Inbox cache read failed", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (c *InboxCache) Set(ctx context.Context, userID, key string, value []byte) {
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, inboxKey(userID), key, value)
	pipe.Expire(ctx, inboxKey(userID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Inbox cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (c *InboxCache) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = inboxKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Inbox cache invalidation failed", zap.Int("users", len(userIDs)), zap.Error(err))
	}
}
