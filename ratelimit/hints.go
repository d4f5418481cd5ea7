package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/juanbarco92/delta/core"
)

// hints are the rate limit signals carried by one response.
type hints struct {
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter *time.Duration
}

func readHints(res core.ResponseMeta, now time.Time) hints {
	h := hints{
		limit:     headerInt(res.Headers, "X-RateLimit-Limit"),
		remaining: headerInt(res.Headers, "X-RateLimit-Remaining"),
	}
	if unix := headerInt(res.Headers, "X-RateLimit-Reset"); unix != nil && *unix > 0 {
		resetAt := time.Unix(int64(*unix), 0).UTC()
		h.resetAt = &resetAt
	}
	switch {
	case res.RetryAfter != nil && *res.RetryAfter > 0:
		wait := *res.RetryAfter
		h.retryAfter = &wait
	default:
		h.retryAfter = parseRetryAfter(header(res.Headers, "Retry-After"), now)
	}
	return h
}

func (h hints) apply(state *State) {
	if h.limit != nil {
		state.Limit = *h.limit
	}
	if h.remaining != nil {
		remaining := *h.remaining
		state.Remaining = &remaining
	}
	if h.resetAt != nil {
		state.ResetAt = h.resetAt
	}
	state.RetryAfter = h.retryAfter
}

// throttled reports whether the response closes the bucket. A 429 always
// does; 5xx never does; otherwise an exhausted remaining count does.
func (h hints) throttled(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return false
	}
	return h.remaining != nil && *h.remaining == 0
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(raw string, now time.Time) *time.Duration {
	if raw == "" {
		return nil
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(raw); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil {
		wait = at.Sub(now)
	}
	if wait <= 0 {
		return nil
	}
	return &wait
}

func headerInt(headers map[string]string, key string) *int {
	raw := header(headers, key)
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &value
}

func header(headers map[string]string, key string) string {
	for name, value := range headers {
		if strings.EqualFold(strings.TrimSpace(name), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
