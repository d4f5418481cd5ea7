package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juanbarco92/delta/core"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
func (failingBody) Close() error             { return nil }

func TestHTTPAdapter_SendsHeadersQueryAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("User-Agent"); got != "delta-test" {
			t.Errorf("expected configured user agent, got %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("expected json accept header, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("expected bearer header, got %q", got)
		}
		if got := r.URL.Query().Get("seller"); got != "42" {
			t.Errorf("expected seller query, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("unexpected body %q", body)
		}
		w.Header().Set("X-RateLimit-Remaining", "9")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	adapter := New(server.Client(), WithUserAgent("delta-test"))
	res, err := adapter.Do(context.Background(), core.TransportRequest{
		Method:  "post",
		URL:     server.URL + "/orders?seller=1",
		Query:   map[string]string{"seller": "42"},
		Headers: map[string]string{"Authorization": "Bearer abc"},
		Body:    []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	if res.Headers["X-Ratelimit-Remaining"] != "9" {
		t.Fatalf("expected flattened rate limit header, got %#v", res.Headers)
	}
	if string(res.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", res.Body)
	}
}

func TestHTTPAdapter_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer server.Close()

	res, err := New(server.Client()).Do(context.Background(), core.TransportRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("expected response, got error %v", err)
	}
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestHTTPAdapter_ExecuteFailureIsTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	adapter := New(doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, cause
	}))
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "https://api.example.test/users/me?code=secret"})

	var transportErr *core.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error, got %T %v", err, err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if strings.Contains(transportErr.URL, "secret") {
		t.Fatalf("expected query string to be redacted, got %q", transportErr.URL)
	}
}

func TestHTTPAdapter_TruncatedBodyIsTransportError(t *testing.T) {
	adapter := New(doerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: failingBody{}}, nil
	}))
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "https://api.example.test/items"})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF cause, got %v", err)
	}
}

func TestHTTPAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := New(server.Client(), WithBodyLimit(4))

	_, err := adapter.Do(context.Background(), core.TransportRequest{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorUpstreamFailure {
		t.Fatalf("expected %q text code, got %q", core.ErrorUpstreamFailure, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestHTTPAdapter_NilClientReturnsRichError(t *testing.T) {
	var adapter *HTTPAdapter
	_, err := adapter.Do(context.Background(), core.TransportRequest{})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
		t.Fatalf("unexpected envelope %q/%q", rich.Category, rich.TextCode)
	}
}

func TestHTTPAdapter_RequestLimitOverridesAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := New(server.Client(), WithBodyLimit(2))
	res, err := adapter.Do(context.Background(), core.TransportRequest{URL: server.URL, MaxResponseBodyBytes: 10})
	if err != nil {
		t.Fatalf("expected request limit to apply, got %v", err)
	}
	if string(res.Body) != "12345" {
		t.Fatalf("unexpected body %q", res.Body)
	}
}

func TestHTTPAdapter_MissingURLIsBadInput(t *testing.T) {
	_, err := New(nil).Do(context.Background(), core.TransportRequest{URL: "  "})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}
