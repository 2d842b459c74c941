package agent

import (
	"context"
	"time"

	"github.com/aixgo-dev/composer/pkg/llm/provider"
)

// Invocation is the record handed to an InvocationLogger after each call
type Invocation struct {
	ID        string             `json:"id"`
	Agent     string             `json:"agent"`
	Input     string             `json:"input"`
	Messages  []provider.Message `json:"messages"`
	Output    any                `json:"output,omitempty"`
	Error     string             `json:"error,omitempty"`
	Duration  time.Duration      `json:"duration"`
	Timestamp time.Time          `json:"timestamp"`
}

// InvocationLogger persists invocations. It is called off the request path;
// errors and panics are discarded.
type InvocationLogger interface {
	LogInvocation(ctx context.Context, inv Invocation) error
}

// InvocationLoggerFunc adapts a function to InvocationLogger
type InvocationLoggerFunc func(ctx context.Context, inv Invocation) error

// LogInvocation implements InvocationLogger
func (f InvocationLoggerFunc) LogInvocation(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}
