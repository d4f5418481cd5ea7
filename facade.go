// Package delta composes the marketplace shipping-cost auditor: token
// lifecycle, the resilient API client, the audit engine and the
// command/query surface on top of them.
package delta

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/juanbarco92/delta/adapters/gocommand"
	"github.com/juanbarco92/delta/audit"
	"github.com/juanbarco92/delta/auth"
	"github.com/juanbarco92/delta/client"
	deltacommand "github.com/juanbarco92/delta/command"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/query"
	"github.com/juanbarco92/delta/ratelimit"
)

type Commands struct {
	ExchangeCode    *deltacommand.ExchangeCodeCommand
	RunAudit        *deltacommand.RunAuditCommand
	SyncItems       *deltacommand.SyncItemsCommand
	EnqueueItemSync *deltacommand.EnqueueItemSyncCommand
}

type Queries struct {
	AuthorizationURL *query.AuthorizationURLQuery
	GetItem          *query.GetItemQuery
	ListUserItems    *query.ListUserItemsQuery
}

type ItemRepository interface {
	query.ItemReader
	query.UserItemLister
}

// Facade owns the single-account runtime: one token store, one token
// manager and one API client shared by every operation.
type Facade struct {
	cfg         core.Config
	tokens      *auth.TokenManager
	api         *client.Client
	marketplace *client.Marketplace
	truth       *audit.TruthTable
	costs       audit.CostModel

	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder

	engineMu sync.Mutex
	engine   *audit.Engine

	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	truth          *audit.TruthTable
	costs          audit.CostModel
	transport      core.TransportAdapter
	rateLimit      core.RateLimitPolicy
	itemSyncer     deltacommand.ItemSyncer
	enqueuer       deltacommand.SyncEnqueuer
	items          ItemRepository
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

// WithTruthTable skips loading the table from Audit.TruthTablePath.
func WithTruthTable(table *audit.TruthTable) FacadeOption {
	return func(o *facadeOptions) {
		o.truth = table
	}
}

func WithCostModel(model audit.CostModel) FacadeOption {
	return func(o *facadeOptions) {
		o.costs = model
	}
}

func WithTransport(adapter core.TransportAdapter) FacadeOption {
	return func(o *facadeOptions) {
		o.transport = adapter
	}
}

// WithRateLimitPolicy replaces the in-memory adaptive policy.
func WithRateLimitPolicy(policy core.RateLimitPolicy) FacadeOption {
	return func(o *facadeOptions) {
		o.rateLimit = policy
	}
}

func WithItemSyncer(syncer deltacommand.ItemSyncer) FacadeOption {
	return func(o *facadeOptions) {
		o.itemSyncer = syncer
	}
}

func WithSyncEnqueuer(enqueuer deltacommand.SyncEnqueuer) FacadeOption {
	return func(o *facadeOptions) {
		o.enqueuer = enqueuer
	}
}

func WithItemRepository(items ItemRepository) FacadeOption {
	return func(o *facadeOptions) {
		o.items = items
	}
}

func WithLogger(logger core.Logger) FacadeOption {
	return func(o *facadeOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) FacadeOption {
	return func(o *facadeOptions) {
		o.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) FacadeOption {
	return func(o *facadeOptions) {
		o.metrics = recorder
	}
}

func NewFacade(cfg core.Config, store core.TokenStore, opts ...FacadeOption) (*Facade, error) {
	if store == nil {
		return nil, fmt.Errorf("delta: token store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := facadeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	rateLimit := options.rateLimit
	if rateLimit == nil {
		rateLimit = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	}

	tokens, err := auth.NewTokenManager(cfg.OAuth, store,
		auth.WithTransport(options.transport),
		auth.WithRetryPolicy(client.RetryPolicyFromConfig(cfg.API)),
		auth.WithLogger(options.logger),
		auth.WithLoggerProvider(options.loggerProvider),
		auth.WithMetricsRecorder(options.metrics),
	)
	if err != nil {
		return nil, err
	}
	apiClient, err := client.New(cfg.API, tokens,
		client.WithTransport(options.transport),
		client.WithRateLimitPolicy(rateLimit, cfg.OAuth.ClientID),
		client.WithLogger(options.logger),
		client.WithLoggerProvider(options.loggerProvider),
		client.WithMetricsRecorder(options.metrics),
	)
	if err != nil {
		return nil, err
	}

	f := &Facade{
		cfg:            cfg,
		tokens:         tokens,
		api:            apiClient,
		marketplace:    client.NewMarketplace(apiClient),
		truth:          options.truth,
		costs:          options.costs,
		logger:         options.logger,
		loggerProvider: options.loggerProvider,
		metrics:        options.metrics,
	}
	f.commands = Commands{
		ExchangeCode: deltacommand.NewExchangeCodeCommand(tokens),
		RunAudit:     deltacommand.NewRunAuditCommand(f),
	}
	f.queries = Queries{
		AuthorizationURL: query.NewAuthorizationURLQuery(tokens),
	}
	if options.itemSyncer != nil {
		f.commands.SyncItems = deltacommand.NewSyncItemsCommand(options.itemSyncer)
	}
	if options.enqueuer != nil {
		f.commands.EnqueueItemSync = deltacommand.NewEnqueueItemSyncCommand(options.enqueuer)
	}
	if options.items != nil {
		f.queries.GetItem = query.NewGetItemQuery(options.items)
		f.queries.ListUserItems = query.NewListUserItemsQuery(options.items)
	}
	return f, nil
}

func (f *Facade) Config() core.Config {
	if f == nil {
		return core.Config{}
	}
	return f.cfg
}

func (f *Facade) TokenManager() *auth.TokenManager {
	if f == nil {
		return nil
	}
	return f.tokens
}

func (f *Facade) Marketplace() *client.Marketplace {
	if f == nil {
		return nil
	}
	return f.marketplace
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// Handlers exposes the configured commands and queries for a dispatcher
// bus.
func (f *Facade) Handlers() gocommand.Handlers {
	if f == nil {
		return gocommand.Handlers{}
	}
	return gocommand.Handlers{
		ExchangeCode:     f.commands.ExchangeCode,
		RunAudit:         f.commands.RunAudit,
		SyncItems:        f.commands.SyncItems,
		EnqueueItemSync:  f.commands.EnqueueItemSync,
		AuthorizationURL: f.queries.AuthorizationURL,
		GetItem:          f.queries.GetItem,
		ListUserItems:    f.queries.ListUserItems,
	}
}

func (f *Facade) NewBus(opts ...gocommand.BusOption) (*gocommand.Bus, error) {
	if f == nil {
		return nil, fmt.Errorf("delta: facade is required")
	}
	return gocommand.NewBus(f.Handlers(), opts...)
}

// NeedsAuthorization reports whether no usable credential is stored, so an
// operator has to complete the consent flow first.
func (f *Facade) NeedsAuthorization(ctx context.Context) (bool, error) {
	_, err := f.tokens.AccessToken(ctx)
	if err == nil {
		return false, nil
	}
	if core.IsAuthError(err, core.AuthNoCredential) || f.tokens.State() == auth.TokenStateUnauthenticated {
		return true, nil
	}
	return false, err
}

// AuditOrders runs the audit engine. The truth table is loaded on first use
// so operations that never audit do not need the file.
func (f *Facade) AuditOrders(ctx context.Context, limit int) (audit.Report, error) {
	engine, err := f.auditEngine()
	if err != nil {
		return audit.Report{}, err
	}
	if limit <= 0 {
		limit = f.cfg.Audit.OrderLimit
	}
	return engine.AuditOrders(ctx, limit)
}

// auditEngine builds the engine once it succeeds; a failed truth-table load
// is retried on the next call.
func (f *Facade) auditEngine() (*audit.Engine, error) {
	f.engineMu.Lock()
	defer f.engineMu.Unlock()
	if f.engine != nil {
		return f.engine, nil
	}

	truth := f.truth
	if truth == nil {
		var truthOpts []audit.TruthOption
		if f.cfg.Audit.CaseInsensitiveSKU {
			truthOpts = append(truthOpts, audit.WithCaseInsensitiveSKU())
		}
		loaded, err := audit.LoadTruthTable(strings.TrimSpace(f.cfg.Audit.TruthTablePath), truthOpts...)
		if err != nil {
			return nil, err
		}
		truth = loaded
	}
	engine, err := audit.NewEngine(f.marketplace, truth,
		audit.WithCostModel(f.costs),
		audit.WithLogger(f.logger),
		audit.WithLoggerProvider(f.loggerProvider),
		audit.WithMetricsRecorder(f.metrics),
	)
	if err != nil {
		return nil, err
	}
	f.engine = engine
	return engine, nil
}

var _ deltacommand.Auditor = (*Facade)(nil)
