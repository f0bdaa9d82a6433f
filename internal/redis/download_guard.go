package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// The reservation value is the owner token, so only the request that took a
// reservation can extend or drop it.
var (
	extendScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// DownloadGuard reserves in-flight downloads across every node with SET NX.
type DownloadGuard struct {
	client *goredis.Client
}

func NewDownloadGuard(client *goredis.Client) *DownloadGuard {
	return &DownloadGuard{client: client}
}

func guardKey(key string) string { return "guard:" + key }

func (g *DownloadGuard) Reserve(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, guardKey(key), owner, ttl).Result()
}

func (g *DownloadGuard) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, g.client, []string{guardKey(key)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (g *DownloadGuard) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, g.client, []string{guardKey(key)}, owner).Err()
}
