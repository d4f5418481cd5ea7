package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput          = "DELTA_BAD_INPUT"
	ErrorNoCredential      = "DELTA_NO_CREDENTIAL"
	ErrorExchangeFailed    = "DELTA_EXCHANGE_FAILED"
	ErrorRefreshFailed     = "DELTA_REFRESH_FAILED"
	ErrorUnauthorized      = "DELTA_UNAUTHORIZED"
	ErrorRateLimited       = "DELTA_RATE_LIMITED"
	ErrorNotFound          = "DELTA_NOT_FOUND"
	ErrorUpstreamFailure   = "DELTA_UPSTREAM_FAILURE"
	ErrorTransportFailure  = "DELTA_TRANSPORT_FAILURE"
	ErrorMalformedResponse = "DELTA_MALFORMED_RESPONSE"
	ErrorLockConflict      = "DELTA_LOCK_CONFLICT"
	ErrorInternal          = "DELTA_INTERNAL_ERROR"
)

var (
	ErrUserNotFound       = errors.New("core: user not found")
	ErrItemNotFound       = errors.New("core: item not found")
	ErrCredentialNotFound = errors.New("core: credential not found")
)

type AuthErrorKind string

const (
	AuthNoCredential   AuthErrorKind = "no_credential"
	AuthExchangeFailed AuthErrorKind = "exchange_failed"
	AuthRefreshFailed  AuthErrorKind = "refresh_failed"
)

// AuthError reports a credential lifecycle failure. Callers must
// re-authenticate (new authorization code) for every kind.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func NewAuthError(kind AuthErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("auth: %s", e.Kind)
	}
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AuthError) ToServiceError() *goerrors.Error {
	textCode := ErrorNoCredential
	switch e.Kind {
	case AuthExchangeFailed:
		textCode = ErrorExchangeFailed
	case AuthRefreshFailed:
		textCode = ErrorRefreshFailed
	}
	return goerrors.New(e.Error(), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(textCode).
		WithMetadata(map[string]any{"kind": string(e.Kind)})
}

// TransportError is a network-level failure: connection refused or reset,
// timeouts, truncated bodies. Attempts is the number of round trips made.
type TransportError struct {
	Op       string
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	msg := "transport: " + strings.TrimSpace(e.Op)
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *TransportError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"op": e.Op}
	if e.URL != "" {
		metadata["url"] = e.URL
	}
	if e.Attempts > 0 {
		metadata["attempts"] = e.Attempts
	}
	return goerrors.New(e.Error(), goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorTransportFailure).
		WithMetadata(metadata)
}

// UpstreamError is a non-2xx response from the marketplace or the token
// endpoint. Body keeps the raw payload for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       string
	Method     string
	Path       string
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return ""
	}
	reason := "upstream error"
	switch {
	case e.Unauthorized():
		reason = "unauthorized"
	case e.RateLimited():
		reason = "rate limited"
	case e.NotFound():
		reason = "not found"
	}
	target := strings.TrimSpace(strings.TrimSpace(e.Method) + " " + strings.TrimSpace(e.Path))
	if target == "" {
		return fmt.Sprintf("upstream: %s (status %d)", reason, e.StatusCode)
	}
	return fmt.Sprintf("upstream: %s %s (status %d)", target, reason, e.StatusCode)
}

func (e *UpstreamError) Unauthorized() bool {
	return e != nil && e.StatusCode == http.StatusUnauthorized
}

func (e *UpstreamError) RateLimited() bool {
	return e != nil && e.StatusCode == http.StatusTooManyRequests
}

func (e *UpstreamError) NotFound() bool { return e != nil && e.StatusCode == http.StatusNotFound }

func (e *UpstreamError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryExternal
	textCode := ErrorUpstreamFailure
	switch {
	case e.Unauthorized():
		category, textCode = goerrors.CategoryAuth, ErrorUnauthorized
	case e.RateLimited():
		category, textCode = goerrors.CategoryRateLimit, ErrorRateLimited
	case e.NotFound():
		category, textCode = goerrors.CategoryNotFound, ErrorNotFound
	}
	code := e.StatusCode
	if code == 0 {
		code = http.StatusBadGateway
	}
	return goerrors.New(e.Error(), category).
		WithCode(code).
		WithTextCode(textCode).
		WithMetadata(map[string]any{
			"status_code": e.StatusCode,
			"method":      e.Method,
			"path":        e.Path,
			"body":        truncate(e.Body, 512),
		})
}

// DataError reports a response that parsed but lacks a required field or
// carries a value of the wrong shape.
type DataError struct {
	Field   string
	Message string
	Err     error
}

func NewDataError(field string, format string, args ...any) *DataError {
	return &DataError{Field: strings.TrimSpace(field), Message: fmt.Sprintf(format, args...)}
}

func (e *DataError) Error() string {
	if e == nil {
		return ""
	}
	msg := "data: "
	if e.Field != "" {
		msg += e.Field + ": "
	}
	msg += e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DataError) ToServiceError() *goerrors.Error {
	return goerrors.NewValidation(e.Error(), goerrors.FieldError{Field: e.Field, Message: e.Message}).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorMalformedResponse)
}

// IsAuthError reports whether err carries an AuthError. With kinds it
// additionally requires one of them to match.
func IsAuthError(err error, kinds ...AuthErrorKind) bool {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if authErr.Kind == kind {
			return true
		}
	}
	return false
}

func AsUpstreamError(err error) (*UpstreamError, bool) {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream, true
	}
	return nil, false
}

func IsUnauthorized(err error) bool {
	upstream, ok := AsUpstreamError(err)
	return ok && upstream.Unauthorized()
}

type serviceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

// MapError converts any error into a go-errors envelope with a DELTA_*
// text code and an HTTP-like status code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var converter serviceErrorConverter
	if errors.As(err, &converter) {
		return ensureErrorEnvelope(converter.ToServiceError())
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrCredentialNotFound) {
		return newError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "lock already held"):
		return newError(err.Error(), goerrors.CategoryConflict, ErrorLockConflict)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

// FieldError reports one invalid message field as a validation envelope.
// scope prefixes the message, e.g. "command" or "query".
func FieldError(scope string, field string, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{Field: field, Message: message}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// MissingDependency reports a handler used without its collaborator.
func MissingDependency(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

func newError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = statusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = textCodeForCategory(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func textCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorLockConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorUpstreamFailure
	default:
		return ErrorInternal
	}
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit]
}
