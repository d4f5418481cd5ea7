// Package ratelimit keeps per-bucket throttle windows derived from the
// marketplace's rate limit headers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juanbarco92/delta/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the marketplace last told us about a bucket.
type State struct {
	Key            core.RateLimitKey
	Limit          int
	Remaining      *int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Hits           int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	Scope      string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: bucket %q for %q throttled for %s", e.BucketKey, e.Scope, e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"scope": e.Scope, "bucket_key": e.BucketKey}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy never waits. BeforeCall fails fast while a bucket is inside
// a throttle window and AfterCall opens or clears windows from the response.
type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if wait := state.blockedFor(p.now()); wait > 0 {
		return ThrottledError{Scope: state.Key.Scope, BucketKey: state.Key.BucketKey, RetryAfter: wait}
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	now := p.now()
	h := readHints(res, now)
	h.apply(&state)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	if !h.throttled(res.StatusCode) {
		state.Hits = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Hits++
	delay := p.backoff(state.Hits)
	if h.retryAfter != nil {
		delay = *h.retryAfter
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

// blockedFor returns how long calls to the bucket must wait, zero when open.
func (s State) blockedFor(now time.Time) time.Duration {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now)
	}
	if s.Remaining != nil && *s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now)
	}
	return 0
}

// BucketForPath groups API paths by their first segment: /orders/search and
// /orders/123 share the "orders" bucket.
func BucketForPath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if index := strings.IndexAny(path, "/?"); index >= 0 {
		path = path[:index]
	}
	if path == "" {
		return "root"
	}
	return strings.ToLower(path)
}

func (p *AdaptivePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles from InitialBackoff per consecutive hit, capped at MaxBackoff.
func (p *AdaptivePolicy) backoff(hits int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = p.DefaultRetryHint
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	for i := 1; i < hits && delay < maximum; i++ {
		delay *= 2
	}
	return min(delay, maximum)
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		Scope:     strings.TrimSpace(key.Scope),
		BucketKey: strings.ToLower(strings.TrimSpace(key.BucketKey)),
	}
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)
