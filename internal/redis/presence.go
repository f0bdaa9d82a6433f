package redis

import (
	"context"
	"encoding/json"
	"time"

	"netyora-chat/internal/presence"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix = "presence:"
	presenceTTL       = 2 * time.Minute
)

type presenceRecord struct {
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// PresenceMirror copies this node's presence registry into redis so every
// node can answer onlineStatus for users connected elsewhere. Each node owns
// one field of presence:{user_id}; the key expires unless Run keeps
// refreshing it.
type PresenceMirror struct {
	client *goredis.Client
	nodeID string
	local  *presence.Registry
	logger *zap.Logger
}

func NewPresenceMirror(client *goredis.Client, nodeID string, local *presence.Registry, logger *zap.Logger) *PresenceMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceMirror{client: client, nodeID: nodeID, local: local, logger: logger}
}

// PresenceChanged implements presence.Broadcaster.
func (p *PresenceMirror) PresenceChanged(state presence.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.write(ctx, state); err != nil {
		p.logger.Warn("Failed to mirror presence", zap.String("user_id", state.UserID), zap.Error(err))
	}
}

func (p *PresenceMirror) write(ctx context.Context, state presence.State) error {
	key := presenceKeyPrefix + state.UserID
	if !state.IsOnline {
		return p.client.HDel(ctx, key, p.nodeID).Err()
	}
	data, err := json.Marshal(presenceRecord{Status: string(state.Status), LastSeen: state.LastSeen})
	if err != nil {
		return err
	}
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, p.nodeID, data)
	pipe.Expire(ctx, key, presenceTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// OnlineStatus prefers this node's view and falls back to the other nodes'.
func (p *PresenceMirror) OnlineStatus(userID string) string {
	if p.local.IsOnline(userID) {
		return p.local.OnlineStatus(userID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fields, err := p.client.HGetAll(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		p.logger.Warn("Failed to read mirrored presence", zap.String("user_id", userID), zap.Error(err))
		return string(presence.StatusOffline)
	}

	status := presence.StatusOffline
	var newest time.Time
	for node, raw := range fields {
		if node == p.nodeID {
			continue
		}
		var rec presenceRecord
		if json.Unmarshal([]byte(raw), &rec) != nil {
			continue
		}
		if rec.LastSeen.After(newest) || status == presence.StatusOffline {
			status, newest = presence.Status(rec.Status), rec.LastSeen
		}
	}
	return string(status)
}

// Run refreshes every locally online user until ctx is cancelled.
func (p *PresenceMirror) Run(ctx context.Context) {
	ticker := time.NewTicker(presenceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, state := range p.local.Snapshot() {
				if err := p.write(ctx, state); err != nil {
					p.logger.Warn("Failed to refresh presence", zap.String("user_id", state.UserID), zap.Error(err))
				}
			}
		}
	}
}
