package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix    = "catalog_sync:credential_lock:"
	lockPollInterval = 100 * time.Millisecond
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker serialises refreshes across processes sharing one credential
// repository. The TTL bounds how long a crashed holder blocks the others.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	local  *LocalLocker
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, local: NewLocalLocker()}
}

func (l *RedisLocker) Lock(ctx context.Context, platform string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, platform)
	if err != nil {
		return nil, err
	}

	key := lockKeyPrefix + platform
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire redis lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		unlockLocal()
	}, nil
}
