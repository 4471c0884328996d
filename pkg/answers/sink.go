package answers

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/interviewflow/pkg/redact"
	"github.com/harunnryd/interviewflow/pkg/resilience"
)

var (
	ErrNotFound  = errors.New("answers not found")
	ErrInvalidID = errors.New("invalid session id")
)

// Sink receives the final answer map of a session, keyed by node id, for
// downstream analysis.
type Sink interface {
	Save(ctx context.Context, sessionID string, answers map[string]string) error
	Load(ctx context.Context, sessionID string) (map[string]string, error)
}

// MemorySink keeps answers in process memory.
type MemorySink struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{sessions: make(map[string]map[string]string)}
}

func (m *MemorySink) Save(_ context.Context, sessionID string, answers map[string]string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = clone(answers)
	return nil
}

func (m *MemorySink) Load(_ context.Context, sessionID string) (map[string]string, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

// Len reports how many sessions are stored.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func clone(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Redacting masks PII in answers before they reach the inner sink.
type Redacting struct {
	Sink
}

func (r Redacting) Save(ctx context.Context, sessionID string, answers map[string]string) error {
	return r.Sink.Save(ctx, sessionID, redact.Answers(answers))
}

// Retrying retries failed saves per Policy. An invalid session id is never
// retried.
type Retrying struct {
	Sink
	Policy resilience.RetryPolicy
}

func (r Retrying) Save(ctx context.Context, sessionID string, answers map[string]string) error {
	policy := r.Policy
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool {
			return !errors.Is(err, ErrInvalidID) && !errors.Is(err, context.Canceled)
		}
	}
	return policy.Do(ctx, func(ctx context.Context) error {
		return r.Sink.Save(ctx, sessionID, answers)
	})
}
