// Package redis keeps credentials and per-user locks in Redis so several
// delta processes can share one account.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juanbarco92/delta/core"
	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "delta:credential:"

type Config struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// NewClient connects and pings, failing when the server is unreachable.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect to %s: %w", addr, err)
	}
	return client, nil
}

type Option func(*TokenStore)

func WithCodec(codec core.CredentialCodec) Option {
	return func(s *TokenStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func WithSecretProvider(secrets core.SecretProvider) Option {
	return func(s *TokenStore) {
		s.secrets = secrets
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(s *TokenStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

type TokenStore struct {
	client  goredis.UniversalClient
	account string
	prefix  string
	codec   core.CredentialCodec
	secrets core.SecretProvider
}

func NewTokenStore(client goredis.UniversalClient, account string, opts ...Option) (*TokenStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis: client is required")
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, fmt.Errorf("redis: account is required")
	}
	store := &TokenStore{
		client:  client,
		account: account,
		prefix:  defaultKeyPrefix,
		codec:   core.JSONCredentialCodec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *TokenStore) Key() string {
	return s.prefix + s.account
}

func (s *TokenStore) Load(ctx context.Context) (*core.Credential, error) {
	payload, err := s.client.Get(ctx, s.Key()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", s.Key(), err)
	}
	if s.secrets != nil {
		payload, err = s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("redis: open %s: %w", s.Key(), err)
		}
	}
	cred, err := s.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *TokenStore) Save(ctx context.Context, cred core.Credential) error {
	payload, err := s.codec.Encode(cred)
	if err != nil {
		return err
	}
	if s.secrets != nil {
		payload, err = s.secrets.Encrypt(ctx, payload)
		if err != nil {
			return fmt.Errorf("redis: seal %s: %w", s.Key(), err)
		}
	}
	if err := s.client.Set(ctx, s.Key(), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", s.Key(), err)
	}
	return nil
}

var _ core.TokenStore = (*TokenStore)(nil)
