// Package retry wraps one-shot calls against flaky upstreams — cloud APIs
// fronting the same devices the link layer reaches locally — with bounded
// retries, exponential backoff, and a one-shot credential refresh for
// authentication failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Backoff defaults, matching the upstream client behaviour the SHQ cloud
// endpoints were tuned against.
const (
	// defaultMaxAttempts is the total number of tries per call.
	defaultMaxAttempts = 3

	// defaultBaseDelay seeds the exponential backoff.
	defaultBaseDelay = 2 * time.Second

	// defaultMaxDelay caps any single backoff pause.
	defaultMaxDelay = 30 * time.Second

	// defaultAttemptTimeout bounds each individual attempt.
	defaultAttemptTimeout = 60 * time.Second
)

// ErrAuthentication classifies failures that a credential refresh might
// cure. Upstream clients wrap their 401-equivalents with it so the caller
// can trigger the one-shot refresh path.
var ErrAuthentication = errors.New("retry: authentication failed")

// CredentialRefresher renews whatever credential the wrapped calls depend
// on. Refresh failures are logged and swallowed; the retry itself decides
// whether the call ultimately succeeds.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds retry policy settings. Zero values apply the defaults above.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	// Refresher handles authentication-class failures. Nil disables the
	// refresh path; auth failures then back off like any other error.
	Refresher CredentialRefresher

	// Logger receives attempt-level events. Nil discards them.
	Logger Logger
}

// Caller applies a retry policy to one-shot calls.
//
// Policy per call:
//   - each attempt runs under its own timeout
//   - failures back off min(base·2^(attempt−1) + jitter, max)
//   - the first authentication-class failure triggers a best-effort
//     credential refresh and an immediate retry; later ones back off
//     normally
//   - when attempts are exhausted, the last underlying error surfaces so
//     callers can classify what actually went wrong
type Caller struct {
	cfg    Config
	logger Logger

	// sleep and jitter are swapped out by tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New creates a Caller with the given policy.
func New(cfg Config) *Caller {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Caller{
		cfg:    cfg,
		logger: cfg.Logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		jitter: rand.Float64, //nolint:gosec // Jitter needs no cryptographic strength
	}
}

// Do runs fn under the retry policy.
//
// Parameters:
//   - ctx: Cancels the whole call, including backoff pauses.
//   - name: Operation label for logs.
//   - fn: The attempt body; receives a per-attempt timeout context.
//
// Returns:
//   - error: nil on success; the last attempt's error after exhaustion;
//     the context error if cancelled mid-backoff.
func (c *Caller) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	refreshed := false

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrAuthentication) && !refreshed && c.cfg.Refresher != nil {
			// One refresh per call. Refresh failure is not fatal here; the
			// next attempt reports the real problem if credentials stay bad.
			refreshed = true
			c.logger.Info("refreshing credentials after auth failure", "operation", name)
			if rerr := c.cfg.Refresher.RefreshCredentials(ctx); rerr != nil {
				c.logger.Warn("credential refresh failed",
					"operation", name,
					"error", rerr,
				)
			}
			continue
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("attempt failed, backing off",
			"operation", name,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s aborted during backoff: %w", name, serr)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, c.cfg.MaxAttempts, lastErr)
}

// backoff returns the pause after the given (1-based) attempt:
// min(base·2^(attempt−1) + jitter[0,1)s, max).
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << (attempt - 1)
	delay += time.Duration(c.jitter() * float64(time.Second))
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}

// Call runs fn under the caller's policy and returns its value.
// Convenience for fetch-style operations.
func Call[T any](ctx context.Context, c *Caller, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, name, func(ctx context.Context) error {
		var ferr error
		result, ferr = fn(ctx)
		return ferr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
