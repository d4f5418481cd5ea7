package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/juanbarco92/delta"
	"github.com/juanbarco92/delta/adapters/gologger"
	promrecorder "github.com/juanbarco92/delta/adapters/prometheus"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/ratelimit"
	"github.com/juanbarco92/delta/security"
	filestore "github.com/juanbarco92/delta/store/file"
	redisstore "github.com/juanbarco92/delta/store/redis"
	sqlstore "github.com/juanbarco92/delta/store/sql"
	itemsync "github.com/juanbarco92/delta/sync"
	goredis "github.com/redis/go-redis/v9"
)

type runtimeOptions struct {
	Config      *core.Config
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

// runtime carries the resolved configuration and the shared sinks every
// subcommand uses. Storage is opened lazily per command.
type runtime struct {
	ctx     context.Context
	cfg     core.Config
	logs    core.LoggerProvider
	metrics *promrecorder.Recorder
	secrets core.SecretProvider
	in      *bufio.Reader
	out     io.Writer

	sql     *sqlstore.RepositoryFactory
	redis   *goredis.Client
	closers []func() error
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	var (
		cfg core.Config
		err error
	)
	if opts.Config != nil {
		cfg = *opts.Config
		err = cfg.Validate()
	} else {
		cfg, err = delta.LoadConfig(ctx, core.Config{})
	}
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		ctx:     ctx,
		cfg:     cfg,
		logs:    gologger.NewProvider(opts.Stderr, opts.LogLevel, opts.LogFormat),
		metrics: promrecorder.NewRecorder(nil),
		in:      bufio.NewReader(readerOr(opts.Stdin)),
		out:     writerOr(opts.Stdout),
	}
	if key := strings.TrimSpace(cfg.Storage.EncryptionKey); key != "" {
		provider, err := security.NewAppKeySecretProviderFromString(key)
		if err != nil {
			return nil, err
		}
		rt.secrets = provider
	}
	if addr := strings.TrimSpace(opts.MetricsAddr); addr != "" {
		if err := rt.serveMetrics(addr); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *runtime) logger(name string) core.Logger {
	return rt.logs.GetLogger(name)
}

func (rt *runtime) serveMetrics(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("delta: metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger("delta.cli").Error("metrics server stopped", "error", err)
		}
	}()
	rt.closers = append(rt.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	})
	return nil
}

func (rt *runtime) sqlDriver() bool {
	switch rt.cfg.Storage.Driver {
	case core.StorageDriverSQLite, core.StorageDriverPostgres:
		return true
	}
	return false
}

// repositories opens the SQL database once and applies migrations.
func (rt *runtime) repositories() (*sqlstore.RepositoryFactory, error) {
	if rt.sql != nil {
		return rt.sql, nil
	}
	if !rt.sqlDriver() {
		return nil, fmt.Errorf("delta: storage driver %q has no user or item tables; use sqlite or postgres", rt.cfg.Storage.Driver)
	}
	client, err := sqlstore.Open(rt.ctx, rt.cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, client.Close)
	var opts []sqlstore.CredentialOption
	if rt.secrets != nil {
		opts = append(opts, sqlstore.WithSecretProvider(rt.secrets))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, opts...)
	if err != nil {
		return nil, err
	}
	rt.sql = factory
	return factory, nil
}

// redisClient connects once to storage.redis_addr.
func (rt *runtime) redisClient() (*goredis.Client, error) {
	if rt.redis != nil {
		return rt.redis, nil
	}
	storage := rt.cfg.Storage
	client, err := redisstore.NewClient(rt.ctx, redisstore.Config{
		Addr:        storage.RedisAddr,
		Password:    storage.RedisPassword,
		DB:          storage.RedisDB,
		PingTimeout: storage.PingTimeout,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, client.Close)
	rt.redis = client
	return client, nil
}

// sharedRedis reports whether a Redis address is configured, in which case
// rate limit windows and sync locks are shared through it.
func (rt *runtime) sharedRedis() bool {
	return strings.TrimSpace(rt.cfg.Storage.RedisAddr) != ""
}

// tokenStore picks the credential store for the configured driver. SQL
// stores are per user and need userID.
func (rt *runtime) tokenStore(userID int64) (core.TokenStore, error) {
	storage := rt.cfg.Storage
	switch storage.Driver {
	case core.StorageDriverFile:
		return filestore.NewTokenStore(storage.TokenFile)
	case core.StorageDriverSQLite, core.StorageDriverPostgres:
		if userID <= 0 {
			return nil, fmt.Errorf("delta: --user is required for the %s driver", storage.Driver)
		}
		factory, err := rt.repositories()
		if err != nil {
			return nil, err
		}
		return factory.CredentialStore().ForUser(userID), nil
	case core.StorageDriverRedis:
		client, err := rt.redisClient()
		if err != nil {
			return nil, err
		}
		account := rt.cfg.OAuth.ClientID
		if userID > 0 {
			account = strconv.FormatInt(userID, 10)
		}
		var opts []redisstore.Option
		if rt.secrets != nil {
			opts = append(opts, redisstore.WithSecretProvider(rt.secrets))
		}
		return redisstore.NewTokenStore(client, account, opts...)
	}
	return nil, fmt.Errorf("delta: unsupported storage driver %q", storage.Driver)
}

// facade builds the runtime facade for userID, wiring item operations when
// the SQL stores are available.
func (rt *runtime) facade(userID int64) (*delta.Facade, error) {
	store, err := rt.tokenStore(userID)
	if err != nil {
		return nil, err
	}
	return rt.facadeFor(store)
}

// facadeWithoutStorage serves operations that never touch a credential.
func (rt *runtime) facadeWithoutStorage() (*delta.Facade, error) {
	return rt.facadeFor(core.NewMemoryTokenStore(nil))
}

func (rt *runtime) facadeFor(store core.TokenStore) (*delta.Facade, error) {
	opts := []delta.FacadeOption{
		delta.WithLoggerProvider(rt.logs),
		delta.WithMetricsRecorder(rt.metrics),
	}
	var syncOpts []itemsync.Option
	if rt.sharedRedis() {
		client, err := rt.redisClient()
		if err != nil {
			return nil, err
		}
		policy := ratelimit.NewAdaptivePolicy(redisstore.NewRateLimitStore(client))
		opts = append(opts, delta.WithRateLimitPolicy(policy))
		syncOpts = append(syncOpts,
			itemsync.WithRateLimitPolicy(policy),
			itemsync.WithLocker(redisstore.NewLocker(client, 0)),
		)
	}
	if rt.sqlDriver() {
		factory, err := rt.repositories()
		if err != nil {
			return nil, err
		}
		cache, err := sqlstore.NewItemCache(5 * time.Minute)
		if err != nil {
			return nil, err
		}
		items, err := sqlstore.NewCachedItemReader(factory.ItemStore(), cache)
		if err != nil {
			return nil, err
		}
		syncOpts = append(syncOpts,
			itemsync.WithLoggerProvider(rt.logs),
			itemsync.WithMetricsRecorder(rt.metrics),
		)
		syncer, err := itemsync.NewItemSync(rt.cfg, factory.UserStore(), factory.CredentialStore(), items, syncOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			delta.WithItemRepository(cachedItems{CachedItemReader: items, store: factory.ItemStore()}),
			delta.WithItemSyncer(syncer),
		)
	}
	return delta.NewFacade(rt.cfg, store, opts...)
}

// cachedItems serves single reads through the cache and listings straight
// from the store.
type cachedItems struct {
	*sqlstore.CachedItemReader
	store *sqlstore.ItemStore
}

func (c cachedItems) ListByUser(ctx context.Context, userID int64) ([]core.ItemDetail, error) {
	return c.store.ListByUser(ctx, userID)
}

func (rt *runtime) prompt(label string) (string, error) {
	fmt.Fprint(rt.out, label)
	line, err := rt.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("delta: read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func readerOr(r io.Reader) io.Reader {
	if r == nil {
		return strings.NewReader("")
	}
	return r
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
