package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenCacheMiss    = errors.New("access token not cached")
	ErrTokenCacheBackend = errors.New("token cache backend unavailable")
)

// TokenCache holds the issued access token per session. An entry's
// presence is what authorizes the session; deleting it revokes the
// session immediately regardless of token expiry.
type TokenCache struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTokenCache(redisClient redis.UniversalClient, prefix string) *TokenCache {
	if prefix == "" {
		prefix = "atc"
	}
	return &TokenCache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *TokenCache) key(sessionID string) string {
	return c.prefix + ":" + sessionID
}

// Save stores token for sessionID with the access-token lifetime as TTL.
func (c *TokenCache) Save(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.key(sessionID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenCacheBackend, err)
	}
	return nil
}

// Get returns the cached token for sessionID, or ErrTokenCacheMiss.
func (c *TokenCache) Get(ctx context.Context, sessionID string) (string, error) {
	token, err := c.redis.Get(ctx, c.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenCacheMiss
		}
		return "", fmt.Errorf("%w: %v", ErrTokenCacheBackend, err)
	}
	return token, nil
}

// Delete removes the entry for sessionID, reporting whether one existed.
func (c *TokenCache) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.redis.Del(ctx, c.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTokenCacheBackend, err)
	}
	return n > 0, nil
}

// DeleteMany removes the entries for all sessionIDs in one round trip.
func (c *TokenCache) DeleteMany(ctx context.Context, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	keys := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = c.key(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenCacheBackend, err)
	}
	return nil
}
