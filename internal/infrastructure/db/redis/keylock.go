package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 5 * time.Second
	lockRetryDelay = 25 * time.Millisecond
	lockKeyPrefix  = "identity:lock:"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// caller's context ended.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KeyLocker is a per-key mutex shared by every instance using the same Redis.
// Key format: identity:lock:<key>
type KeyLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewKeyLocker creates a KeyLocker. ttl bounds how long a crashed holder can
// block others; defaultLockTTL is used when ttl <= 0.
func NewKeyLocker(client *redis.Client, ttl time.Duration) *KeyLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &KeyLocker{client: client, ttl: ttl}
}

// Lock blocks until key is acquired or ctx ends.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, ErrLockTimeout)
		case <-ticker.C:
		}
	}
}

func (l *KeyLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
}
