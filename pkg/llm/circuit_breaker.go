package llm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harunnryd/interviewflow/pkg/errorsx"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/resilience"
)

// CircuitBreakerGateway fails fast while the provider keeps failing, so a
// session takes its scripted fallback at once instead of waiting on timeouts.
type CircuitBreakerGateway struct {
	inner   Gateway
	breaker *resilience.CircuitBreaker
	obs     atomic.Value
}

type observerBox struct{ events.Observer }

func NewCircuitBreakerGateway(inner Gateway, breaker *resilience.CircuitBreaker) *CircuitBreakerGateway {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	g := &CircuitBreakerGateway{inner: inner, breaker: breaker}
	g.obs.Store(observerBox{events.NoopObserver{}})
	breaker.OnStateChange(func(_, to resilience.BreakerState) {
		switch to {
		case resilience.BreakerOpen:
			g.record(events.KindBreakerOpen, "")
		case resilience.BreakerHalfOpen:
			g.record(events.KindBreakerProbe, "")
		case resilience.BreakerClosed:
			g.record(events.KindBreakerClose, "")
		}
	})
	return g
}

func (g *CircuitBreakerGateway) Name() string { return g.inner.Name() }

// State reports the breaker state for health checks.
func (g *CircuitBreakerGateway) State() resilience.BreakerState { return g.breaker.State() }

// SetObserver routes breaker events to obs.
func (g *CircuitBreakerGateway) SetObserver(obs events.Observer) {
	if obs == nil {
		obs = events.NoopObserver{}
	}
	g.obs.Store(observerBox{obs})
}

func (g *CircuitBreakerGateway) Generate(ctx context.Context, req Request) (Response, error) {
	if !g.breaker.Allow() {
		g.record(events.KindBreakerDenied, req.Purpose)
		return Response{}, errorsx.Wrap(resilience.ErrOpen, errorsx.ReasonGatewayUnavailable)
	}
	resp, err := g.inner.Generate(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			g.record(events.KindRateLimit, req.Purpose)
		}
		g.breaker.OnError(err)
		return Response{}, err
	}
	g.breaker.OnSuccess()
	return resp, nil
}

func (g *CircuitBreakerGateway) record(kind events.Kind, purpose Purpose) {
	tags := map[string]string{events.TagProvider: g.inner.Name()}
	if purpose != "" {
		tags[events.TagPurpose] = string(purpose)
	}
	g.obs.Load().(observerBox).RecordEvent(events.Event{Kind: kind, Time: time.Now(), Tags: tags})
}
