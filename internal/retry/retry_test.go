package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestCaller returns a caller whose sleeps are recorded instead of
// slept and whose jitter is pinned to zero.
func newTestCaller(cfg Config) (*Caller, *[]time.Duration) {
	c := New(cfg)

	var mu sync.Mutex
	slept := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*slept = append(*slept, d)
		mu.Unlock()
		return nil
	}
	c.jitter = func() float64 { return 0 }
	return c, slept
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	c, slept := newTestCaller(Config{})

	calls := 0
	err := c.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no backoff", *slept)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	c, slept := newTestCaller(Config{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second})

	calls := 0
	err := c.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	// Exponential growth with zero jitter: 2s, 4s.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestDoExhaustionSurfacesLastError(t *testing.T) {
	c, _ := newTestCaller(Config{MaxAttempts: 3})

	calls := 0
	lastErr := errors.New("attempt 3 error")
	err := c.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return fmt.Errorf("attempt %d error", calls)
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("Do() error = %v, want wrapped %v", err, lastErr)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("Do() error = %q, want attempt count in message", err)
	}
}

func TestBackoffCap(t *testing.T) {
	c, _ := newTestCaller(Config{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second})

	// 2^(6-1)·2s = 64s, capped to 30s.
	if got := c.backoff(6); got != 30*time.Second {
		t.Errorf("backoff(6) = %v, want 30s", got)
	}
}

func TestBackoffJitter(t *testing.T) {
	c := New(Config{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second})
	c.jitter = func() float64 { return 0.5 }

	if got := c.backoff(1); got != 2*time.Second+500*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 2.5s", got)
	}
}

// refresher records refresh calls and optionally fails them.
type refresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *refresher) RefreshCredentials(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *refresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestDoAuthFailureRefreshesOnce(t *testing.T) {
	ref := &refresher{}
	c, slept := newTestCaller(Config{Refresher: ref})

	calls := 0
	err := c.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w: status 401", ErrAuthentication)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if ref.count() != 1 {
		t.Errorf("refresh calls = %d, want 1", ref.count())
	}
	// The refresh path retries immediately, no backoff.
	if len(*slept) != 0 {
		t.Errorf("slept %v, want none for the auth retry", *slept)
	}
}

func TestDoAuthFailureRefreshConsumesAttempt(t *testing.T) {
	ref := &refresher{}
	c, _ := newTestCaller(Config{MaxAttempts: 2, Refresher: ref})

	calls := 0
	err := c.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		return fmt.Errorf("%w: status 401", ErrAuthentication)
	})

	// Attempt 1 fails auth, refresh, attempt 2 fails auth again; the
	// second auth failure gets no second refresh and the budget is spent.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if ref.count() != 1 {
		t.Errorf("refresh calls = %d, want 1", ref.count())
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Do() error = %v, want ErrAuthentication", err)
	}
}

func TestDoRefreshFailureIsNotFatal(t *testing.T) {
	ref := &refresher{err: errors.New("token endpoint down")}
	c, _ := newTestCaller(Config{Refresher: ref})

	calls := 0
	err := c.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w: status 401", ErrAuthentication)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v, want nil despite refresh failure", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoAbortedDuringBackoff(t *testing.T) {
	c := New(Config{})
	c.jitter = func() float64 { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Do(ctx, "fetch", func(context.Context) error {
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if !strings.Contains(err.Error(), "aborted during backoff") {
		t.Errorf("Do() error = %q, want backoff abort message", err)
	}
}

func TestDoAttemptTimeout(t *testing.T) {
	c, _ := newTestCaller(Config{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond})

	err := c.Do(context.Background(), "fetch", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestCallReturnsValue(t *testing.T) {
	c, _ := newTestCaller(Config{})

	calls := 0
	got, err := Call(context.Background(), c, "fetch", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "payload", nil
	})

	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "payload" {
		t.Errorf("Call() = %q, want %q", got, "payload")
	}
}

func TestCallZeroValueOnError(t *testing.T) {
	c, _ := newTestCaller(Config{MaxAttempts: 1})

	got, err := Call(context.Background(), c, "fetch", func(context.Context) (int, error) {
		return 42, errors.New("boom")
	})

	if err == nil {
		t.Fatal("Call() error = nil, want error")
	}
	if got != 0 {
		t.Errorf("Call() = %d, want zero value", got)
	}
}
