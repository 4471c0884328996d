package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }
	var changes []string
	cb.OnStateChange(func(from, to BreakerState) { changes = append(changes, from.String()+">"+to.String()) })

	if cb.OnError(errors.New("timeout")) {
		t.Fatalf("breaker opened too early")
	}
	if !cb.OnError(RateLimitError{Provider: "openai"}) {
		t.Fatalf("expected breaker to open at threshold")
	}
	if cb.Allow() || cb.State() != BreakerOpen {
		t.Fatalf("expected breaker to refuse calls while open")
	}
	now = now.Add(2 * time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected a probe after cooldown")
	}
	if cb.Allow() {
		t.Fatalf("only one probe may run while half open")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed || !cb.Allow() {
		t.Fatalf("successful probe should close the breaker")
	}
	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(changes) != len(want) {
		t.Fatalf("unexpected transitions %v", changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("unexpected transitions %v", changes)
		}
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	cb.OnError(errors.New("down"))
	now = now.Add(2 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected probe")
	}
	if !cb.OnError(errors.New("still down")) || cb.State() != BreakerOpen {
		t.Fatalf("failed probe should reopen, state=%s", cb.State())
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	if cb.OnError(context.Canceled) || !cb.Allow() {
		t.Fatalf("cancellation must not trip the breaker")
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(3, Backoff{Base: time.Millisecond}).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("invalid session id")
	p := NewRetryPolicy(3, Backoff{Base: time.Millisecond})
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected one call, got %d (%v)", calls, err)
	}
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(5, Backoff{Base: time.Hour})
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("redis: connection refused")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after one call, got %d (%v)", calls, err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	cases := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}
	for n, want := range cases {
		if got := b.Delay(n); got != want {
			t.Fatalf("Delay(%d) = %s, want %s", n, got, want)
		}
	}
	j := Backoff{Base: 10 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 20; i++ {
		if d := j.Delay(0); d < 10*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", d)
		}
	}
}
