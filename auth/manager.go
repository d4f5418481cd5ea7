package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juanbarco92/delta/client"
	"github.com/juanbarco92/delta/core"
)

type TokenState string

const (
	TokenStateUnauthenticated TokenState = "unauthenticated"
	TokenStateValid           TokenState = "valid"
	TokenStateExpiring        TokenState = "expiring"
)

// TokenManager owns one credential. Every mutation is saved to the store
// before the new token is handed out, and the expiry check, refresh and
// save happen inside a single critical section so two callers never spend
// the same rotating refresh token.
type TokenManager struct {
	cfg       core.OAuthConfig
	store     core.TokenStore
	exchanger Exchanger
	now       func() time.Time
	margin    time.Duration
	observer  *core.Observer

	mu      sync.Mutex
	current *core.Credential
	// rejected is the refresh token the server refused; a stored
	// credential still carrying it is not reloaded.
	rejected string
}

type managerBuilder struct {
	exchanger      Exchanger
	transport      core.TransportAdapter
	retry          *client.RetryPolicy
	now            func() time.Time
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

type Option func(*managerBuilder)

func WithExchanger(exchanger Exchanger) Option {
	return func(b *managerBuilder) {
		b.exchanger = exchanger
	}
}

func WithTransport(adapter core.TransportAdapter) Option {
	return func(b *managerBuilder) {
		b.transport = adapter
	}
}

func WithRetryPolicy(policy client.RetryPolicy) Option {
	return func(b *managerBuilder) {
		b.retry = &policy
	}
}

func WithNow(now func() time.Time) Option {
	return func(b *managerBuilder) {
		b.now = now
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *managerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *managerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *managerBuilder) {
		b.metrics = recorder
	}
}

func NewTokenManager(cfg core.OAuthConfig, store core.TokenStore, opts ...Option) (*TokenManager, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: token store is required")
	}
	builder := managerBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}

	observer := core.NewObserver("delta.auth", builder.loggerProvider, builder.logger, builder.metrics)
	exchanger := builder.exchanger
	if exchanger == nil {
		policy := client.DefaultRetryPolicy()
		if builder.retry != nil {
			policy = *builder.retry
		}
		exchanger = NewTokenExchanger(cfg, builder.transport, policy, observer)
	}
	now := builder.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = core.DefaultRefreshMargin
	}

	return &TokenManager{
		cfg:       cfg,
		store:     store,
		exchanger: exchanger,
		now:       now,
		margin:    margin,
		observer:  observer,
	}, nil
}

// AuthorizationURL is the consent page the user visits to obtain a code.
func (m *TokenManager) AuthorizationURL() string {
	base := strings.TrimSpace(m.cfg.AuthURL)
	if base == "" {
		base = core.DefaultAuthURL
	}
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", strings.TrimSpace(m.cfg.ClientID))
	query.Set("redirect_uri", strings.TrimSpace(m.cfg.RedirectURI))

	parsed, err := url.Parse(base)
	if err != nil {
		return base + "?" + query.Encode()
	}
	existing := parsed.Query()
	for key, values := range query {
		existing[key] = values
	}
	parsed.RawQuery = existing.Encode()
	return parsed.String()
}

// ExchangeCode trades an authorization code for a credential and makes it
// the active one.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (cred core.Credential, err error) {
	startedAt := time.Now()
	defer func() {
		m.observer.ObserveOperation(ctx, startedAt, "exchange", err, nil)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	grant, err := m.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return core.Credential{}, core.NewAuthError(core.AuthExchangeFailed, err)
	}
	cred = grant.Credential(m.now())
	if err := m.store.Save(ctx, cred); err != nil {
		return core.Credential{}, core.NewAuthError(core.AuthExchangeFailed, fmt.Errorf("persist credential: %w", err))
	}
	m.current = &cred
	m.rejected = ""
	m.observer.Info(ctx, "authorization code exchanged", map[string]any{
		"user_id":    cred.UserID,
		"expires_at": cred.ExpiresAt.Format(time.RFC3339),
	})
	return cred, nil
}

// AccessToken returns a token that is outside the refresh margin,
// refreshing first when needed.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return "", err
	}
	if m.current == nil {
		return "", core.NewAuthError(core.AuthNoCredential, nil)
	}
	if !m.current.Expired(m.now(), m.margin) {
		return m.current.AccessToken, nil
	}
	cred, err := m.refreshLocked(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (m *TokenManager) Refresh(ctx context.Context) (core.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return core.Credential{}, err
	}
	if m.current == nil {
		return core.Credential{}, core.NewAuthError(core.AuthNoCredential, nil)
	}
	return m.refreshLocked(ctx)
}

func (m *TokenManager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.current == nil:
		return TokenStateUnauthenticated
	case m.current.Expired(m.now(), m.margin):
		return TokenStateExpiring
	default:
		return TokenStateValid
	}
}

// loadLocked reads the store while no credential is active, so a
// credential written by another process is picked up.
func (m *TokenManager) loadLocked(ctx context.Context) error {
	if m.current != nil {
		return nil
	}
	cred, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("auth: load credential: %w", err)
	}
	if cred == nil || strings.TrimSpace(cred.AccessToken) == "" {
		return nil
	}
	if m.rejected != "" && cred.RefreshToken == m.rejected {
		return nil
	}
	loaded := *cred
	m.current = &loaded
	return nil
}

func (m *TokenManager) refreshLocked(ctx context.Context) (cred core.Credential, err error) {
	startedAt := time.Now()
	fields := map[string]any{"expires_at": m.current.ExpiresAt.Format(time.RFC3339)}
	defer func() {
		m.observer.ObserveOperation(ctx, startedAt, "refresh", err, fields)
	}()

	m.observer.Info(ctx, "refreshing access token", fields)
	grant, err := m.exchanger.Refresh(ctx, m.current.RefreshToken)
	if err != nil {
		if rejectedByServer(err) {
			m.observer.Error(ctx, "refresh token rejected; a new authorization is required", map[string]any{"error": err.Error()})
			m.rejected = m.current.RefreshToken
			m.current = nil
			fields["reason"] = "rejected"
		}
		return core.Credential{}, core.NewAuthError(core.AuthRefreshFailed, err)
	}

	cred = grant.Credential(m.now())
	if cred.UserID == "" {
		cred.UserID = m.current.UserID
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return core.Credential{}, core.NewAuthError(core.AuthRefreshFailed, fmt.Errorf("persist credential: %w", err))
	}
	m.current = &cred
	m.observer.Info(ctx, "access token refreshed", map[string]any{"expires_at": cred.ExpiresAt.Format(time.RFC3339)})
	return cred, nil
}

// rejectedByServer reports a definitive refusal from the token endpoint,
// as opposed to an unreachable one.
func rejectedByServer(err error) bool {
	upstream, ok := core.AsUpstreamError(err)
	if !ok {
		return false
	}
	switch upstream.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

var (
	_ core.TokenSource = (*TokenManager)(nil)
	_ Exchanger        = (*TokenExchanger)(nil)
)
