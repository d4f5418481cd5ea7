package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("DELTA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DELTA_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type xorSecrets struct{}

func (xorSecrets) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (s xorSecrets) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return s.Encrypt(ctx, ciphertext)
}

func TestTokenStoreRoundTrip(t *testing.T) {
	client := newTestClient(t)
	store, err := NewTokenStore(client, "test-"+uuid.NewString(), WithSecretProvider(xorSecrets{}))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { client.Del(context.Background(), store.Key()) })

	loaded, err := store.Load(context.Background())
	if err != nil || loaded != nil {
		t.Fatalf("expected empty key to load nil, got %+v %v", loaded, err)
	}

	cred := core.Credential{AccessToken: "APP-1", RefreshToken: "TG-1", ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second)}
	if err := store.Save(context.Background(), cred); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := client.Get(context.Background(), store.Key()).Bytes()
	if string(raw) == "" || raw[0] == '{' {
		t.Fatalf("expected sealed payload, got %q", raw)
	}
	loaded, err = store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RefreshToken != "TG-1" || !loaded.ExpiresAt.Equal(cred.ExpiresAt) {
		t.Fatalf("unexpected credential %+v", loaded)
	}
}

func TestLockerSerializesHolders(t *testing.T) {
	client := newTestClient(t)
	locker := NewLocker(client, time.Minute)
	key := "test-" + uuid.NewString()

	handle, err := locker.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, key); err == nil {
		t.Fatalf("expected second holder to wait until the deadline")
	}
	if err := handle.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := locker.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("expected lock to be free: %v", err)
	}
	_ = again.Unlock(context.Background())
}

func TestNewTokenStoreValidates(t *testing.T) {
	if _, err := NewTokenStore(nil, "a"); err == nil {
		t.Fatalf("expected missing client to fail")
	}
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewTokenStore(client, " "); err == nil {
		t.Fatalf("expected missing account to fail")
	}
}

func TestRateLimitStoreSharesThrottleWindow(t *testing.T) {
	client := newTestClient(t)
	key := core.RateLimitKey{Scope: "test-" + uuid.NewString(), BucketKey: "orders"}
	store := NewRateLimitStore(client)
	t.Cleanup(func() { client.Del(context.Background(), store.Key(key)) })

	if _, err := store.Get(context.Background(), key); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected missing state, got %v", err)
	}

	writer := ratelimit.NewAdaptivePolicy(store)
	if err := writer.AfterCall(context.Background(), key, core.ResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": "30"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}

	reader := ratelimit.NewAdaptivePolicy(NewRateLimitStore(client))
	var throttled ratelimit.ThrottledError
	if err := reader.BeforeCall(context.Background(), key); !errors.As(err, &throttled) {
		t.Fatalf("expected another process to see the throttle window, got %v", err)
	}
	if ttl := client.TTL(context.Background(), store.Key(key)).Val(); ttl <= 0 {
		t.Fatalf("expected state key to expire, got ttl %s", ttl)
	}
}
