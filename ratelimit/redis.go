package ratelimit

import (
	"context"
	"time"

	"git.sr.ht/~kvo/go-std/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps windows in Redis, for deployments that run more than
// one bridge process behind one address. Same fixed-window semantics as
// MemoryStore: the key's TTL is the window.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(key string, interval time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	count, err := s.client.Incr(ctx, "ratelimit:"+key).Result()
	if err != nil {
		return 0, errors.New(err, "cannot increment window counter")
	}
	// NX: an established window is never extended, and a counter left
	// without an expiry by an earlier failure picks one up on the next
	// hit instead of counting forever.
	err = s.client.ExpireNX(ctx, "ratelimit:"+key, interval).Err()
	if err != nil {
		return 0, errors.New(err, "cannot start window expiry")
	}
	return int(count), nil
}
