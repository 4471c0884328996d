package answers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "interviewflow"
	defaultTTL    = 24 * time.Hour
)

// RedisSink stores each session's answers as a hash under
// "<prefix>:answers:<session id>". Entries expire after the TTL; this is a
// handoff to downstream analysis, not a candidate record.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisOption func(*RedisSink)

// WithTTL sets the expiry. Zero keeps entries forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSink) { s.ttl = ttl }
}

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisSink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisSink(client *redis.Client, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, ttl: defaultTTL, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) key(sessionID string) string {
	return s.prefix + ":answers:" + sessionID
}

// Save replaces the stored answers in one transaction.
func (s *RedisSink) Save(ctx context.Context, sessionID string, answers map[string]string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(answers) > 0 {
		values := make(map[string]any, len(answers))
		for k, v := range answers {
			values[k] = v
		}
		pipe.HSet(ctx, key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisSink) Load(ctx context.Context, sessionID string) (map[string]string, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	out, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

var (
	_ Sink = (*RedisSink)(nil)
	_ Sink = (*MemorySink)(nil)
)
