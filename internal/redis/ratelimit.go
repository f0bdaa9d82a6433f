package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Action names a rate-limited command. Keys look like ratelimit:{subject}:{action}.
type Action string

const (
	ActionMessage Action = "messages"
	ActionUpload  Action = "uploads"
	ActionVideo   Action = "video"
	ActionConnect Action = "connect"
)

// Limit is the quota for one action.
type Limit struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig map[Action]Limit

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		ActionMessage: {Max: 60, Window: time.Minute},
		ActionUpload:  {Max: 20, Window: time.Minute},
		ActionVideo:   {Max: 10, Window: time.Minute},
		ActionConnect: {Max: 30, Window: time.Minute},
	}
}

type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{client: client, config: config}
}

// Fixed-window counter: INCR below the limit, EXPIRE on the first hit.
var limitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if current == 0 then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	end
	return {0, 0, ttl}
`)

// Allow consumes one unit of action's quota for subject (a user id or an IP).
// Unknown actions are always allowed.
func (r *RateLimiter) Allow(ctx context.Context, action Action, subject string) (*RateLimitResult, error) {
	limit, ok := r.config[action]
	if !ok || limit.Max <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	key := fmt.Sprintf("ratelimit:%s:%s", subject, action)

	result, err := limitScript.Run(ctx, r.client, []string{key}, limit.Max, int(limit.Window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	allowed, _ := resultSlice[0].(int64)
	remaining, _ := resultSlice[1].(int64)
	resetIn, _ := resultSlice[2].(int64)

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetIn:   time.Duration(resetIn) * time.Second,
		Limit:     limit.Max,
	}, nil
}

// Reset clears every quota of subject.
func (r *RateLimiter) Reset(ctx context.Context, subject string) error {
	keys := make([]string, 0, len(r.config))
	for action := range r.config {
		keys = append(keys, fmt.Sprintf("ratelimit:%s:%s", subject, action))
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
