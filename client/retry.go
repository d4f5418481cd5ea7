package client

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"github.com/juanbarco92/delta/core"
)

// ExponentialBackoff doubles Initial per attempt and caps at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = core.DefaultInitialBackoff
	}
	maximum := b.Max
	if maximum <= 0 {
		maximum = core.DefaultMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// RetryPolicy bounds how often a transient transport failure is retried.
// HTTP status codes are never retried here.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     ExponentialBackoff
	Jitter      func(delay time.Duration) time.Duration
	Retryable   func(err error) bool
	Sleep       func(ctx context.Context, delay time.Duration) error
	OnRetry     func(ctx context.Context, attempt int, delay time.Duration, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: core.DefaultMaxAttempts,
		Backoff: ExponentialBackoff{
			Initial: core.DefaultInitialBackoff,
			Max:     core.DefaultMaxBackoff,
		},
		Retryable: IsTransient,
		Sleep:     waitWithContext,
	}
}

func RetryPolicyFromConfig(cfg core.APIConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		policy.Backoff.Initial = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		policy.Backoff.Max = cfg.MaxBackoff
	}
	return policy
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.Backoff.NextDelay(attempt)
	if p.Jitter != nil {
		delay = p.Jitter(delay)
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. It returns the number of attempts made. On
// exhaustion a *core.TransportError carries the final attempt count.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = waitWithContext
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return attempt, err
		}
		if attempt >= maxAttempts {
			return attempt, exhausted(err, attempt)
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(ctx, attempt, delay, err)
		}
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return attempt, waitErr
		}
	}
}

func exhausted(err error, attempts int) error {
	var transportErr *core.TransportError
	if errors.As(err, &transportErr) {
		copied := *transportErr
		copied.Attempts = attempts
		return &copied
	}
	return err
}

// IsTransient reports whether err is a network-level fault worth another
// attempt: resets, refusals, timeouts and truncated bodies. Authentication
// failures, cancellations and certificate problems are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if core.IsAuthError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transportErr *core.TransportError
	if !errors.As(err, &transportErr) {
		return false
	}

	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) || errors.As(err, &certInvalid) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
