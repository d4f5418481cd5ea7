// Package transport performs single HTTP round trips for the marketplace
// client and the OAuth token exchanger. Retries, authentication and status
// handling live with the callers.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juanbarco92/delta/core"
)

const Kind = "http"

const (
	DefaultTimeout       = 30 * time.Second
	DefaultBodyLimit     = int64(10 << 20)
	DefaultUserAgent     = "delta"
	defaultAcceptHeaders = "application/json"
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPAdapter sends a core.TransportRequest and returns the raw response.
// Non-2xx statuses are not errors. Connection and body read failures come
// back as *core.TransportError.
type HTTPAdapter struct {
	client    Doer
	headers   http.Header
	bodyLimit int64
	now       func() time.Time
}

type Option func(*HTTPAdapter)

func WithUserAgent(agent string) Option {
	return func(a *HTTPAdapter) {
		if agent = strings.TrimSpace(agent); agent != "" {
			a.headers.Set("User-Agent", agent)
		}
	}
}

func WithHeader(key, value string) Option {
	return func(a *HTTPAdapter) {
		if key = strings.TrimSpace(key); key != "" {
			a.headers.Set(key, strings.TrimSpace(value))
		}
	}
}

func WithBodyLimit(limit int64) Option {
	return func(a *HTTPAdapter) {
		if limit > 0 {
			a.bodyLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *HTTPAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// New wraps client, or a client with DefaultTimeout when nil.
func New(client Doer, opts ...Option) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	adapter := &HTTPAdapter{
		client:    client,
		headers:   http.Header{},
		bodyLimit: DefaultBodyLimit,
		now:       time.Now,
	}
	adapter.headers.Set("User-Agent", DefaultUserAgent)
	adapter.headers.Set("Accept", defaultAcceptHeaders)
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter
}

func (*HTTPAdapter) Kind() string {
	return Kind
}

func (a *HTTPAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.client == nil {
		return core.TransportResponse{}, envelope(nil, goerrors.CategoryInternal,
			"transport: http adapter requires a client", http.StatusInternalServerError, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, target, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}

	startedAt := a.now()
	httpRes, err := a.client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, &core.TransportError{Op: "execute http request", URL: redact(target), Attempts: 1, Err: err}
	}
	defer httpRes.Body.Close()

	limit := a.bodyLimit
	if req.MaxResponseBodyBytes > 0 {
		limit = req.MaxResponseBodyBytes
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return core.TransportResponse{}, &core.TransportError{Op: "read response body", URL: redact(target), Attempts: 1, Err: err}
	}
	if int64(len(payload)) > limit {
		return core.TransportResponse{}, envelope(nil, goerrors.CategoryExternal,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			http.StatusBadGateway,
			map[string]any{"url": redact(target), "status_code": httpRes.StatusCode, "limit_bytes": limit})
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key, values := range httpRes.Header {
		headers[key] = strings.Join(values, ",")
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       payload,
		Metadata: map[string]any{
			"kind":        Kind,
			"duration_ms": a.now().Sub(startedAt).Milliseconds(),
		},
	}, nil
}

func (a *HTTPAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, *url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, nil, envelope(nil, goerrors.CategoryBadInput, "transport: request url is required", http.StatusBadRequest, nil)
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, nil, envelope(err, goerrors.CategoryBadInput, "transport: invalid request url", http.StatusBadRequest, nil)
	}
	if len(req.Query) > 0 {
		query := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				query.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = query.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, nil, envelope(err, goerrors.CategoryBadInput, "transport: create http request", http.StatusBadRequest,
			map[string]any{"method": method, "url": redact(target)})
	}
	httpReq.Header = a.headers.Clone()
	for key, value := range req.Headers {
		if key = strings.TrimSpace(key); key != "" {
			httpReq.Header.Set(key, strings.TrimSpace(value))
		}
	}
	return httpReq, target, nil
}

// redact drops credentials and the query string, which may carry codes.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}

func envelope(source error, category goerrors.Category, message string, code int, metadata map[string]any) error {
	var err *goerrors.Error
	if source != nil {
		err = goerrors.Wrap(source, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	textCode := core.ErrorInternal
	switch category {
	case goerrors.CategoryBadInput:
		textCode = core.ErrorBadInput
	case goerrors.CategoryExternal:
		textCode = core.ErrorUpstreamFailure
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		metadata["adapter"] = Kind
		err = err.WithMetadata(metadata)
	}
	return err
}

var _ core.TransportAdapter = (*HTTPAdapter)(nil)
