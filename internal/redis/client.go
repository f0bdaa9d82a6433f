package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

// Initialize creates the process-wide client from a redis:// URL. Only the
// first call has any effect.
func Initialize(url string) error {
	clientOnce.Do(func() {
		client, clientErr = NewClient(url)
	})
	return clientErr
}

// GetClient returns the client created by Initialize.
// Panics if Initialize() has not succeeded.
func GetClient() *redis.Client {
	if client == nil {
		panic("redis client not initialized. Call Initialize() first")
	}
	return client
}

func IsInitialized() bool {
	return client != nil
}

// NewClient parses url and checks the server answers.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return c, nil
}
