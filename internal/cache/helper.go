package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter caches are deliberately short-lived: live events adjust in-memory
// feed state directly, the cache only dampens read load on cold pages.
const (
	LikeCountTTL    = 30 * time.Second
	CommentCountTTL = 30 * time.Second
)

// LikeCountKey returns the cache key for a post's like count.
func LikeCountKey(postID uint) string {
	return fmt.Sprintf("post:%d:likes", postID)
}

// CommentCountKey returns the cache key for a post's comment count.
func CommentCountKey(postID uint) string {
	return fmt.Sprintf("post:%d:comments", postID)
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// Invalidate removes a key from the cache (best-effort).
func Invalidate(ctx context.Context, key string) {
	if client == nil {
		return
	}
	_ = client.Del(ctx, key).Err()
}

// Aside tries Redis first, on miss it calls fetch (which should populate dest),
// then stores the result in Redis with ttl. fetch must write into dest.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := GetJSON(ctx, key, dest)
	if err == nil && found {
		return nil
	}
	// A cache read failure degrades to a source fetch.

	if err := fetch(); err != nil {
		return err
	}

	// Store into cache (best-effort)
	_ = SetJSON(ctx, key, dest, ttl)
	return nil
}
