package signaling

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix = "call:room:"
	presenceTimeout   = 2 * time.Second
)

// RedisPresence mirrors room membership into Redis sets so every instance can
// report cluster-wide participant counts. It is advisory: relay routing only
// uses the local registry.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisPresence creates a presence mirror. ttl bounds how long a crashed
// instance's members linger.
func NewRedisPresence(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisPresence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPresence{client: client, ttl: ttl, logger: logger}
}

func presenceKey(roomID string) string {
	return presenceKeyPrefix + roomID + ":participants"
}

// Observe is a RoomObserver.
func (p *RedisPresence) Observe(ev RoomEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	key := presenceKey(ev.RoomID)
	var err error
	if ev.Joined {
		pipe := p.client.TxPipeline()
		pipe.SAdd(ctx, key, ev.PeerID)
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
		_, err = pipe.Exec(ctx)
	} else {
		err = p.client.SRem(ctx, key, ev.PeerID).Err()
	}
	if err != nil {
		p.logger.Warn("presence update failed", zap.String("room_id", ev.RoomID), zap.String("participant_id", ev.PeerID), zap.Bool("joined", ev.Joined), zap.Error(err))
	}
}

// Count returns the number of participants in roomID across all instances.
func (p *RedisPresence) Count(roomID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	return p.client.SCard(ctx, presenceKey(roomID)).Result()
}
