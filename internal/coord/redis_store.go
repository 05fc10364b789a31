// Package coord serializes work per proposal and remembers which
// notifications were already delivered.
package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agenda/api/internal/util"
)

var ErrLockTimeout = errors.New("lock not acquired")

// releaseScript deletes the lock only while it still carries our token, so an
// expired holder cannot release a lock that someone else acquired since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements proposal locks and delivery dedupe on Redis so
// several API instances and the sweep share them.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	lockTTL  time.Duration
	retryGap time.Duration
}

// NewRedisStore creates a new Redis-backed coordination store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   "agenda:",
		lockTTL:  30 * time.Second,
		retryGap: 50 * time.Millisecond,
	}
}

// WithLockTTL sets how long a lock survives a crashed holder.
func (s *RedisStore) WithLockTTL(ttl time.Duration) *RedisStore {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

func (s *RedisStore) lockKey(key string) string {
	return s.prefix + "lock:" + key
}

func (s *RedisStore) sentKey(key string) string {
	return s.prefix + "sent:" + key
}

// Lock blocks until the lock for key is held or ctx ends. The returned func
// releases it.
func (s *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := s.lockKey(key)
	token := util.NewID("lock")

	for {
		acquired, err := s.client.SetNX(ctx, redisKey, token, s.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock %s: %w: %v", key, ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if acquired {
			return func() { s.release(redisKey, token) }, nil
		}

		timer := time.NewTimer(s.retryGap)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w: %v", key, ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *RedisStore) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, s.client, []string{redisKey}, token).Err()
}

// Claim marks key as delivered. It returns false when the key was claimed
// before and has not expired.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.sentKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// Release drops a claim so the key can be claimed again.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.sentKey(key)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
