package invocationlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aixgo-dev/composer/agent"
	"github.com/redis/go-redis/v9"
)

const (
	defaultStream = "composer:invocations"
	defaultMaxLen = 10000
)

// RedisLogger appends invocations to a capped Redis stream
type RedisLogger struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisLoggerFromClient creates a stream logger. Empty stream and zero
// maxLen use "composer:invocations" and 10000.
func NewRedisLoggerFromClient(client *redis.Client, stream string, maxLen int64) *RedisLogger {
	if stream == "" {
		stream = defaultStream
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisLogger{client: client, stream: stream, maxLen: maxLen}
}

// LogInvocation implements agent.InvocationLogger
func (l *RedisLogger) LogInvocation(ctx context.Context, inv agent.Invocation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":      inv.ID,
			"agent":   inv.Agent,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append invocation to %s: %w", l.stream, err)
	}
	return nil
}

// Close closes the underlying client
func (l *RedisLogger) Close() error {
	return l.client.Close()
}
