package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juanbarco92/delta/auth"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockPrefix = "delta:lock:"
	defaultLockTTL    = 2 * time.Minute
	lockPollInterval  = 100 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a cross-process per-key lock built on SET NX with a TTL.
type Locker struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewLocker(client goredis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{client: client, prefix: defaultLockPrefix, ttl: ttl}
}

func (l *Locker) Acquire(ctx context.Context, key string) (auth.LockHandle, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redis: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redis: lock key is required")
	}
	token := uuid.NewString()
	redisKey := l.prefix + key

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire %s: %w", redisKey, err)
		}
		if acquired {
			return &lockHandle{client: l.client, key: redisKey, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type lockHandle struct {
	client goredis.UniversalClient
	key    string
	token  string
}

func (h *lockHandle) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, h.client, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("redis: release %s: %w", h.key, err)
	}
	return nil
}

var _ auth.Locker = (*Locker)(nil)
