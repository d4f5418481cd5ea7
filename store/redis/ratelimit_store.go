package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRateLimitPrefix = "delta:ratelimit:"
	minRateLimitTTL        = time.Hour
)

// RateLimitStore shares bucket state between processes using one key per
// scope and bucket. Keys expire after the later of their throttle window and
// an hour.
type RateLimitStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRateLimitStore(client goredis.UniversalClient) *RateLimitStore {
	return &RateLimitStore{client: client, prefix: defaultRateLimitPrefix, now: time.Now}
}

func (s *RateLimitStore) Key(key core.RateLimitKey) string {
	return s.prefix + key.Scope + ":" + key.BucketKey
}

func (s *RateLimitStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	raw, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	if err != nil {
		return ratelimit.State{}, fmt.Errorf("redis: get rate limit state: %w", err)
	}
	var state ratelimit.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return ratelimit.State{}, fmt.Errorf("redis: decode rate limit state: %w", err)
	}
	return state, nil
}

func (s *RateLimitStore) Upsert(ctx context.Context, state ratelimit.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: encode rate limit state: %w", err)
	}
	ttl := minRateLimitTTL
	for _, until := range []*time.Time{state.ThrottledUntil, state.ResetAt} {
		if until != nil {
			ttl = max(ttl, until.Sub(s.now()))
		}
	}
	if err := s.client.Set(ctx, s.Key(state.Key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: save rate limit state: %w", err)
	}
	return nil
}

var _ ratelimit.StateStore = (*RateLimitStore)(nil)
