package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not cached")
	ErrSnapshotBackend  = errors.New("snapshot cache backend unavailable")
)

// SnapshotCache holds serialized current-user snapshots keyed by session
// id, with a per-user index so every snapshot of a user can be dropped
// when their identity or grants change.
type SnapshotCache struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSnapshotCache(redisClient redis.UniversalClient, prefix string) *SnapshotCache {
	if prefix == "" {
		prefix = "snap"
	}
	return &SnapshotCache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *SnapshotCache) key(sessionID string) string {
	return c.prefix + ":" + sessionID
}

func (c *SnapshotCache) userKey(userID string) string {
	return c.prefix + ":u:" + userID
}

// Save stores data for sessionID and records the session in the user
// index. The index key outlives individual snapshots slightly so
// invalidation still finds entries written just before expiry.
func (c *SnapshotCache) Save(ctx context.Context, userID, sessionID string, data []byte, ttl time.Duration) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(sessionID), data, ttl)
		pipe.SAdd(ctx, c.userKey(userID), sessionID)
		pipe.Expire(ctx, c.userKey(userID), ttl+time.Minute)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotBackend, err)
	}
	return nil
}

// Get returns the cached snapshot bytes for sessionID.
func (c *SnapshotCache) Get(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := c.redis.Get(ctx, c.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSnapshotBackend, err)
	}
	return data, nil
}

// Delete removes the snapshot for a single session.
func (c *SnapshotCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.redis.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotBackend, err)
	}
	return nil
}

// InvalidateUser drops every cached snapshot of userID.
func (c *SnapshotCache) InvalidateUser(ctx context.Context, userID string) error {
	sessionIDs, err := c.redis.SMembers(ctx, c.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotBackend, err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, c.key(id))
	}
	keys = append(keys, c.userKey(userID))

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotBackend, err)
	}
	return nil
}
