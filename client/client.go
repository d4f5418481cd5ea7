package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/ratelimit"
	"github.com/juanbarco92/delta/transport"
)

// Client is the resilient marketplace API client: every call carries a
// fresh bearer token, transient transport faults are retried within the
// policy budget and non-2xx responses surface as *core.UpstreamError.
type Client struct {
	baseURL   *url.URL
	tokens    core.TokenSource
	transport core.TransportAdapter
	retry     RetryPolicy
	rateLimit core.RateLimitPolicy
	rateScope string
	timeout   time.Duration
	pageSize  int
	batchSize int
	observer  *core.Observer
}

type clientBuilder struct {
	transport      core.TransportAdapter
	retry          *RetryPolicy
	rateLimit      core.RateLimitPolicy
	rateScope      string
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

type Option func(*clientBuilder)

func WithTransport(adapter core.TransportAdapter) Option {
	return func(b *clientBuilder) {
		b.transport = adapter
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *clientBuilder) {
		b.retry = &policy
	}
}

// WithRateLimitPolicy installs rate-limit tracking. scope separates
// buckets of different accounts sharing one policy store.
func WithRateLimitPolicy(policy core.RateLimitPolicy, scope string) Option {
	return func(b *clientBuilder) {
		b.rateLimit = policy
		b.rateScope = strings.TrimSpace(scope)
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *clientBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *clientBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *clientBuilder) {
		b.metrics = recorder
	}
}

func New(cfg core.APIConfig, tokens core.TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("client: token source is required")
	}
	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		rawBase = core.DefaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("client: base url %q is invalid", rawBase)
	}

	builder := clientBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	if builder.transport == nil {
		builder.transport = transport.New(nil)
	}
	policy := RetryPolicyFromConfig(cfg)
	if builder.retry != nil {
		policy = *builder.retry
	}

	c := &Client{
		baseURL:   baseURL,
		tokens:    tokens,
		transport: builder.transport,
		retry:     policy,
		rateLimit: builder.rateLimit,
		rateScope: builder.rateScope,
		timeout:   cfg.Timeout,
		pageSize:  cfg.PageSize,
		batchSize: cfg.BatchSize,
		observer:  core.NewObserver("delta.client", builder.loggerProvider, builder.logger, builder.metrics),
	}
	if c.pageSize <= 0 {
		c.pageSize = core.DefaultPageSize
	}
	if c.batchSize <= 0 {
		c.batchSize = core.DefaultBatchSize
	}
	return c, nil
}

// Call performs method on path and returns the raw JSON body of a 2xx
// response.
func (c *Client) Call(ctx context.Context, method string, path string, query url.Values, body any) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "client: encode request body").
				WithCode(http.StatusBadRequest).
				WithTextCode(core.ErrorBadInput)
		}
		payload = encoded
	}

	startedAt := time.Now()
	fields := map[string]any{"method": method, "path": path}
	res, attempts, err := c.roundTrip(ctx, method, path, query, payload)
	fields["attempts"] = attempts
	if err == nil {
		fields["status_code"] = res.StatusCode
		err = c.checkStatus(ctx, method, path, res)
	}
	c.observer.ObserveOperation(ctx, startedAt, "request", err, fields)
	if err != nil {
		return nil, err
	}
	if len(res.Body) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Body), nil
}

func (c *Client) CallJSON(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	raw, err := c.Call(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &core.DataError{Field: path, Message: "decode response body", Err: err}
	}
	return nil
}

func (c *Client) roundTrip(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	payload []byte,
) (core.TransportResponse, int, error) {
	key := core.RateLimitKey{Scope: c.rateScope, BucketKey: ratelimit.BucketForPath(path)}
	if c.rateLimit != nil {
		if err := c.rateLimit.BeforeCall(ctx, key); err != nil {
			var throttled ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				c.observer.Warn(ctx, "rate limit window active; request not sent", map[string]any{
					"path":           path,
					"retry_after_ms": throttled.RetryAfter.Milliseconds(),
				})
				c.observer.Counter(ctx, "rate_limited.total", 1, map[string]string{"bucket": key.BucketKey, "source": "policy"})
				return core.TransportResponse{}, 0, &core.UpstreamError{
					StatusCode: http.StatusTooManyRequests,
					Body:       throttled.Error(),
					Method:     method,
					Path:       path,
				}
			}
			return core.TransportResponse{}, 0, err
		}
	}

	target := c.resolveURL(path, query)
	headers := map[string]string{
		"Accept": "application/json",
	}
	if len(payload) > 0 {
		headers["Content-Type"] = "application/json"
	}

	policy := c.retry
	policy.OnRetry = func(ctx context.Context, attempt int, delay time.Duration, err error) {
		c.observer.Warn(ctx, "transient transport failure; retrying", map[string]any{
			"method":   method,
			"path":     path,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		c.observer.Counter(ctx, "retry.total", 1, map[string]string{"method": method})
	}

	var res core.TransportResponse
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		reqHeaders := make(map[string]string, len(headers)+1)
		for k, v := range headers {
			reqHeaders[k] = v
		}
		reqHeaders["Authorization"] = "Bearer " + token
		out, err := c.transport.Do(ctx, core.TransportRequest{
			Method:  method,
			URL:     target,
			Headers: reqHeaders,
			Body:    payload,
			Timeout: c.timeout,
		})
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return core.TransportResponse{}, attempts, err
	}

	if c.rateLimit != nil {
		if err := c.rateLimit.AfterCall(ctx, key, core.ResponseMeta{
			StatusCode: res.StatusCode,
			Headers:    res.Headers,
		}); err != nil {
			c.observer.Warn(ctx, "rate limit state update failed", map[string]any{"path": path, "error": err.Error()})
		}
	}
	return res, attempts, nil
}

func (c *Client) checkStatus(ctx context.Context, method string, path string, res core.TransportResponse) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	upstream := &core.UpstreamError{
		StatusCode: res.StatusCode,
		Body:       string(res.Body),
		Method:     method,
		Path:       path,
	}
	switch {
	case upstream.Unauthorized():
		c.observer.Error(ctx, "unauthorized; re-authentication required", map[string]any{"method": method, "path": path})
	case upstream.RateLimited():
		c.observer.Warn(ctx, "rate limit hit", map[string]any{"method": method, "path": path})
		c.observer.Counter(ctx, "rate_limited.total", 1, map[string]string{"bucket": ratelimit.BucketForPath(path), "source": "upstream"})
	}
	return upstream
}

func (c *Client) resolveURL(path string, query url.Values) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func (c *Client) PageSize() int { return c.pageSize }

func (c *Client) BatchSize() int { return c.batchSize }

func itoa(value int) string { return strconv.Itoa(value) }
