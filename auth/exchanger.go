package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juanbarco92/delta/client"
	"github.com/juanbarco92/delta/core"
	"github.com/juanbarco92/delta/transport"
)

const maxTokenResponseBodyBytes int64 = 1 << 20

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	TokenType    string
	Scope        string
	UserID       string
}

// Credential converts the grant into a credential expiring ExpiresIn
// after now.
func (g TokenGrant) Credential(now time.Time) core.Credential {
	return core.Credential{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    now.Add(g.ExpiresIn).UTC(),
		TokenType:    g.TokenType,
		Scope:        g.Scope,
		UserID:       g.UserID,
	}
}

type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// TokenExchanger talks to the OAuth2 token endpoint with form-encoded POSTs.
// Transient transport faults are retried with the client retry policy; any
// answer from the endpoint, success or not, is final.
type TokenExchanger struct {
	cfg       core.OAuthConfig
	transport core.TransportAdapter
	retry     client.RetryPolicy
	observer  *core.Observer
}

func NewTokenExchanger(cfg core.OAuthConfig, adapter core.TransportAdapter, retry client.RetryPolicy, observer *core.Observer) *TokenExchanger {
	if adapter == nil {
		adapter = transport.New(nil)
	}
	return &TokenExchanger{cfg: cfg, transport: adapter, retry: retry, observer: observer}
}

func (e *TokenExchanger) ExchangeCode(ctx context.Context, code string) (TokenGrant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenGrant{}, core.NewDataError("code", "authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", grantAuthorizationCode)
	form.Set("code", code)
	form.Set("redirect_uri", strings.TrimSpace(e.cfg.RedirectURI))
	return e.fetchToken(ctx, form)
}

func (e *TokenExchanger) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenGrant{}, core.NewDataError("refresh_token", "is required")
	}
	form := url.Values{}
	form.Set("grant_type", grantRefreshToken)
	form.Set("refresh_token", refreshToken)
	return e.fetchToken(ctx, form)
}

func (e *TokenExchanger) fetchToken(ctx context.Context, form url.Values) (TokenGrant, error) {
	if e == nil {
		return TokenGrant{}, fmt.Errorf("auth: token exchanger is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tokenURL := strings.TrimSpace(e.cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = core.DefaultTokenURL
	}
	form.Set("client_id", strings.TrimSpace(e.cfg.ClientID))
	form.Set("client_secret", strings.TrimSpace(e.cfg.ClientSecret))
	body := []byte(form.Encode())

	grantType := form.Get("grant_type")
	policy := e.retry
	policy.OnRetry = func(ctx context.Context, attempt int, delay time.Duration, err error) {
		e.observer.Warn(ctx, "token endpoint unreachable; retrying", map[string]any{
			"grant_type": grantType,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
			"error":      err.Error(),
		})
	}

	var res core.TransportResponse
	_, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		out, err := e.transport.Do(ctx, core.TransportRequest{
			Method: http.MethodPost,
			URL:    tokenURL,
			Headers: map[string]string{
				"Accept":       "application/json",
				"Content-Type": "application/x-www-form-urlencoded",
			},
			Body:                 body,
			Timeout:              e.cfg.RequestTimeout,
			MaxResponseBodyBytes: maxTokenResponseBodyBytes,
		})
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return TokenGrant{}, err
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return TokenGrant{}, &core.UpstreamError{
			StatusCode: res.StatusCode,
			Body:       string(res.Body),
			Method:     http.MethodPost,
			Path:       tokenPath(tokenURL),
		}
	}
	payload, err := parseTokenPayload(res.Body, headerValue(res.Headers, "Content-Type"))
	if err != nil {
		return TokenGrant{}, &core.DataError{Field: "token_response", Message: "decode token response", Err: err}
	}
	return payload.grant()
}

type tokenEndpointPayload struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	Scope            string
	UserID           string
	ExpiresIn        string
	ErrorCode        string
	ErrorDescription string
}

func (p tokenEndpointPayload) grant() (TokenGrant, error) {
	if p.ErrorCode != "" {
		return TokenGrant{}, core.NewDataError("error", "token endpoint error: %s", p.describeError())
	}
	if p.AccessToken == "" {
		return TokenGrant{}, core.NewDataError("access_token", "missing from token response")
	}
	if p.RefreshToken == "" {
		return TokenGrant{}, core.NewDataError("refresh_token", "missing from token response")
	}
	if p.ExpiresIn == "" {
		return TokenGrant{}, core.NewDataError("expires_in", "missing from token response")
	}
	seconds, err := strconv.ParseFloat(p.ExpiresIn, 64)
	if err != nil || seconds < 0 {
		return TokenGrant{}, core.NewDataError("expires_in", "invalid value %q", p.ExpiresIn)
	}
	return TokenGrant{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    time.Duration(seconds * float64(time.Second)),
		TokenType:    p.TokenType,
		Scope:        p.Scope,
		UserID:       p.UserID,
	}, nil
}

func (p tokenEndpointPayload) describeError() string {
	if p.ErrorDescription != "" {
		return p.ErrorDescription
	}
	return p.ErrorCode
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.UseNumber()
	var decoded map[string]any
	if err := decoder.Decode(&decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		Scope:            readAnyString(decoded["scope"]),
		UserID:           readAnyString(decoded["user_id"]),
		ExpiresIn:        readAnyString(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		UserID:           strings.TrimSpace(values.Get("user_id")),
		ExpiresIn:        strings.TrimSpace(values.Get("expires_in")),
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(existing, key) {
			return value
		}
	}
	return ""
}

func tokenPath(tokenURL string) string {
	parsed, err := url.Parse(tokenURL)
	if err != nil || parsed.Path == "" {
		return tokenURL
	}
	return parsed.Path
}
