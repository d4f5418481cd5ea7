// Package sync mirrors a seller's marketplace listings into the item store.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/juanbarco92/delta/auth"
	"github.com/juanbarco92/delta/client"
	"github.com/juanbarco92/delta/core"
)

const DefaultListPageSize = 50

type UserReader interface {
	Get(ctx context.Context, id int64) (core.User, error)
}

type CredentialProvider interface {
	ForUser(userID int64) core.TokenStore
}

type ItemWriter interface {
	UpsertMany(ctx context.Context, items []core.ItemDetail) (int, error)
}

// ItemSource is the slice of the marketplace API a sync run needs.
type ItemSource interface {
	ListItemIDs(ctx context.Context, marketplaceUserID int64, pageSize int) ([]string, error)
	Items(ctx context.Context, ids []string, chunkSize int) ([]core.ItemDetail, error)
}

type TokenSourceFactory func(store core.TokenStore) (core.TokenSource, error)

type ItemSourceFactory func(tokens core.TokenSource) (ItemSource, error)

type SyncResult struct {
	UserID            int64
	MarketplaceUserID int64
	Found             int
	Synced            int
}

type ItemSync struct {
	users       UserReader
	credentials CredentialProvider
	items       ItemWriter
	tokens      TokenSourceFactory
	source      ItemSourceFactory
	locker      auth.Locker
	pageSize    int
	chunkSize   int
	observer    *core.Observer
}

type syncBuilder struct {
	tokens         TokenSourceFactory
	source         ItemSourceFactory
	locker         auth.Locker
	rateLimit      core.RateLimitPolicy
	pageSize       int
	chunkSize      int
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

type Option func(*syncBuilder)

func WithTokenSourceFactory(factory TokenSourceFactory) Option {
	return func(b *syncBuilder) {
		b.tokens = factory
	}
}

func WithItemSourceFactory(factory ItemSourceFactory) Option {
	return func(b *syncBuilder) {
		b.source = factory
	}
}

// WithLocker replaces the in-process per-user lock, e.g. with a Redis lock
// shared by several workers.
func WithLocker(locker auth.Locker) Option {
	return func(b *syncBuilder) {
		b.locker = locker
	}
}

// WithRateLimitPolicy shares throttle windows across every user's client,
// scoped by the OAuth application.
func WithRateLimitPolicy(policy core.RateLimitPolicy) Option {
	return func(b *syncBuilder) {
		b.rateLimit = policy
	}
}

func WithPageSize(size int) Option {
	return func(b *syncBuilder) {
		b.pageSize = size
	}
}

func WithChunkSize(size int) Option {
	return func(b *syncBuilder) {
		b.chunkSize = size
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *syncBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *syncBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *syncBuilder) {
		b.metrics = recorder
	}
}

// NewItemSync wires the sync collaborator. Unless overridden, each run
// builds a TokenManager over the user's credential store and a marketplace
// client from cfg.
func NewItemSync(cfg core.Config, users UserReader, credentials CredentialProvider, items ItemWriter, opts ...Option) (*ItemSync, error) {
	if users == nil {
		return nil, fmt.Errorf("sync: user reader is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("sync: credential provider is required")
	}
	if items == nil {
		return nil, fmt.Errorf("sync: item writer is required")
	}
	builder := syncBuilder{pageSize: DefaultListPageSize, chunkSize: cfg.API.BatchSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	if builder.pageSize <= 0 {
		builder.pageSize = DefaultListPageSize
	}
	if builder.chunkSize <= 0 {
		builder.chunkSize = core.DefaultBatchSize
	}
	if builder.locker == nil {
		builder.locker = auth.NewKeyedLocker()
	}
	if builder.tokens == nil {
		builder.tokens = func(store core.TokenStore) (core.TokenSource, error) {
			return auth.NewTokenManager(cfg.OAuth, store,
				auth.WithRetryPolicy(client.RetryPolicyFromConfig(cfg.API)),
				auth.WithLogger(builder.logger),
				auth.WithLoggerProvider(builder.loggerProvider),
				auth.WithMetricsRecorder(builder.metrics),
			)
		}
	}
	if builder.source == nil {
		builder.source = func(tokens core.TokenSource) (ItemSource, error) {
			clientOpts := []client.Option{
				client.WithLogger(builder.logger),
				client.WithLoggerProvider(builder.loggerProvider),
				client.WithMetricsRecorder(builder.metrics),
			}
			if builder.rateLimit != nil {
				clientOpts = append(clientOpts, client.WithRateLimitPolicy(builder.rateLimit, cfg.OAuth.ClientID))
			}
			apiClient, err := client.New(cfg.API, tokens, clientOpts...)
			if err != nil {
				return nil, err
			}
			return client.NewMarketplace(apiClient), nil
		}
	}

	return &ItemSync{
		users:       users,
		credentials: credentials,
		items:       items,
		tokens:      builder.tokens,
		source:      builder.source,
		locker:      builder.locker,
		pageSize:    builder.pageSize,
		chunkSize:   builder.chunkSize,
		observer:    core.NewObserver("delta.sync", builder.loggerProvider, builder.logger, builder.metrics),
	}, nil
}

func LockKey(userID int64) string {
	return "items:" + strconv.FormatInt(userID, 10)
}

// SyncUserItems lists every listing of the user's marketplace account,
// resolves the details and upserts them. Runs for the same user never
// overlap.
func (s *ItemSync) SyncUserItems(ctx context.Context, userID int64) (result SyncResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result.UserID = userID
	if userID <= 0 {
		return result, fmt.Errorf("sync: user id is required")
	}
	startedAt := time.Now()
	defer func() {
		s.observer.ObserveOperation(ctx, startedAt, "run", err, map[string]any{
			"user_id": userID,
			"found":   result.Found,
			"synced":  result.Synced,
		})
	}()

	handle, err := s.locker.Acquire(ctx, LockKey(userID))
	if err != nil {
		return result, fmt.Errorf("sync: lock user %d: %w", userID, err)
	}
	defer func() {
		if unlockErr := handle.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
			s.observer.Warn(ctx, "item sync unlock failed", map[string]any{"user_id": userID, "error": unlockErr.Error()})
		}
	}()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("sync: load user %d: %w", userID, err)
	}
	result.MarketplaceUserID = user.MarketplaceUserID

	store := s.credentials.ForUser(userID)
	cred, err := store.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("sync: load credential for user %d: %w", userID, err)
	}
	if cred == nil {
		return result, core.NewAuthError(core.AuthNoCredential, fmt.Errorf("no credential stored for user %d", userID))
	}

	tokens, err := s.tokens(store)
	if err != nil {
		return result, fmt.Errorf("sync: build token source: %w", err)
	}
	source, err := s.source(tokens)
	if err != nil {
		return result, fmt.Errorf("sync: build marketplace client: %w", err)
	}

	s.observer.Info(ctx, "item sync started", map[string]any{
		"user_id":             userID,
		"marketplace_user_id": user.MarketplaceUserID,
	})
	ids, err := source.ListItemIDs(ctx, user.MarketplaceUserID, s.pageSize)
	if err != nil {
		return result, fmt.Errorf("sync: list items for user %d: %w", userID, err)
	}
	result.Found = len(ids)
	if len(ids) == 0 {
		s.observer.Info(ctx, "item sync found no items", map[string]any{"user_id": userID})
		return result, nil
	}

	details, err := source.Items(ctx, ids, s.chunkSize)
	if err != nil {
		return result, fmt.Errorf("sync: fetch item details for user %d: %w", userID, err)
	}
	for i := range details {
		details[i].UserID = userID
	}

	written, err := s.items.UpsertMany(ctx, details)
	if err != nil {
		return result, fmt.Errorf("sync: store items for user %d: %w", userID, err)
	}
	result.Synced = written
	s.observer.Counter(ctx, "items.total", int64(written), nil)
	s.observer.Info(ctx, "item sync finished", map[string]any{
		"user_id": userID,
		"found":   result.Found,
		"synced":  result.Synced,
	})
	return result, nil
}
