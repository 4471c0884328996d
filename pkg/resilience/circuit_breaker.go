package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RateLimitError is returned by gateways when the provider throttles.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = errors.New("circuit open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after threshold consecutive failures. Once the
// cooldown passes a single probe is let through; its outcome closes or
// reopens the breaker. Caller cancellation is neither success nor failure.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time
	onChange  func(from, to BreakerState)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange registers fn, called with the breaker lock released.
func (c *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == BreakerOpen && !c.now().Before(c.openedAt.Add(c.cooldown)) {
		return BreakerHalfOpen
	}
	return c.state
}

// Allow reports whether a call may proceed. In half-open state only one
// caller at a time gets through.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	var from, to BreakerState
	allowed := true
	switch c.state {
	case BreakerOpen:
		if c.now().Before(c.openedAt.Add(c.cooldown)) {
			allowed = false
			break
		}
		from, to = c.state, BreakerHalfOpen
		c.state = BreakerHalfOpen
		c.probing = true
	case BreakerHalfOpen:
		if c.probing {
			allowed = false
		} else {
			c.probing = true
		}
	}
	fn := c.onChange
	c.mu.Unlock()
	if from != to && fn != nil {
		fn(from, to)
	}
	return allowed
}

func (c *CircuitBreaker) OnSuccess() {
	c.transition(func() BreakerState {
		c.failures = 0
		c.probing = false
		return BreakerClosed
	})
}

// OnError counts err toward the threshold and reports whether the breaker
// opened as a result.
func (c *CircuitBreaker) OnError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		c.mu.Lock()
		c.probing = false
		c.mu.Unlock()
		return false
	}
	opened := false
	c.transition(func() BreakerState {
		c.failures++
		if c.state == BreakerHalfOpen || c.failures >= c.threshold {
			c.failures = 0
			c.probing = false
			c.openedAt = c.now()
			opened = true
			return BreakerOpen
		}
		return c.state
	})
	return opened
}

func (c *CircuitBreaker) transition(apply func() BreakerState) {
	c.mu.Lock()
	from := c.state
	c.state = apply()
	to := c.state
	fn := c.onChange
	c.mu.Unlock()
	if from != to && fn != nil {
		fn(from, to)
	}
}
