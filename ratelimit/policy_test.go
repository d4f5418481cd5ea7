package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juanbarco92/delta/core"
)

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())

	err := policy.BeforeCall(context.Background(), core.RateLimitKey{Scope: "seller:42", BucketKey: "orders"})
	if err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_AfterCallParsesHeadersAndPersistsState(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := core.RateLimitKey{Scope: "seller:42", BucketKey: "Orders"}
	resetAt := now.Add(45 * time.Second)
	err := policy.AfterCall(context.Background(), key, core.ResponseMeta{
		StatusCode: 200,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "1500",
			"X-RateLimit-Remaining": "1499",
			"X-RateLimit-Reset":     "1700000045",
		},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	state, err := store.Get(context.Background(), core.RateLimitKey{Scope: "seller:42", BucketKey: "orders"})
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 1500 || state.Remaining == nil || *state.Remaining != 1499 {
		t.Fatalf("unexpected limit/remaining %d/%v", state.Limit, state.Remaining)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset at %s, got %+v", resetAt, state.ResetAt)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected no throttle window")
	}
}

func TestAdaptivePolicy_429WithRetryAfterBlocksUntilWindowPasses(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	key := core.RateLimitKey{Scope: "seller:42", BucketKey: "shipments"}

	if err := policy.AfterCall(context.Background(), key, core.ResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": "20"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}

	err := policy.BeforeCall(context.Background(), key)
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %T %v", err, err)
	}
	if throttled.RetryAfter != 20*time.Second {
		t.Fatalf("expected 20s retry after, got %s", throttled.RetryAfter)
	}

	now = now.Add(21 * time.Second)
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected window to have passed, got %v", err)
	}
}

func TestAdaptivePolicy_429WithoutHintUsesExponentialWindow(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	key := core.RateLimitKey{Scope: "app", BucketKey: "items"}

	for i := 0; i < 3; i++ {
		if err := policy.AfterCall(context.Background(), key, core.ResponseMeta{StatusCode: 429}); err != nil {
			t.Fatalf("after call: %v", err)
		}
	}
	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Hits != 3 {
		t.Fatalf("expected 3 hits, got %d", state.Hits)
	}
	if state.ThrottledUntil == nil || !state.ThrottledUntil.Equal(now.Add(4*time.Second)) {
		t.Fatalf("expected 4s window, got %v", state.ThrottledUntil)
	}

	if err := policy.AfterCall(context.Background(), key, core.ResponseMeta{StatusCode: 200}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, _ = store.Get(context.Background(), key)
	if state.Hits != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected success to clear throttle, got %+v", state)
	}
}

func TestAdaptivePolicy_ResetWithoutRemainingKeepsBucketOpen(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	key := core.RateLimitKey{Scope: "seller:42", BucketKey: "orders"}

	if err := policy.AfterCall(context.Background(), key, core.ResponseMeta{
		StatusCode: 200,
		Headers:    map[string]string{"X-RateLimit-Reset": "1700000045"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected an unreported remaining count to leave the bucket open, got %v", err)
	}
	state, _ := store.Get(context.Background(), key)
	if state.Remaining != nil {
		t.Fatalf("expected remaining to stay unknown, got %d", *state.Remaining)
	}

	if err := policy.AfterCall(context.Background(), key, core.ResponseMeta{
		StatusCode: 200,
		Headers:    map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000045"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), key); err == nil {
		t.Fatalf("expected an exhausted bucket to block until reset")
	}
}

func TestAdaptivePolicy_ServerErrorsDoNotThrottle(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	key := core.RateLimitKey{Scope: "app", BucketKey: "orders"}
	if err := policy.AfterCall(context.Background(), key, core.ResponseMeta{
		StatusCode: 503,
		Headers:    map[string]string{"X-RateLimit-Remaining": "0"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected 5xx not to throttle, got %v", err)
	}
}

func TestBucketForPath(t *testing.T) {
	cases := map[string]string{
		"/orders/search":         "orders",
		"/shipments/123":         "shipments",
		"users/me":               "users",
		"/items?ids=MLA1":        "items",
		"":                       "root",
		"/Users/9/items/search/": "users",
	}
	for path, want := range cases {
		if got := BucketForPath(path); got != want {
			t.Fatalf("BucketForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestThrottledError_ToServiceError(t *testing.T) {
	mapped := ThrottledError{Scope: "seller:42", BucketKey: "orders", RetryAfter: 3 * time.Second}.ToServiceError()
	if mapped.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.ErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != 429 {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
}
