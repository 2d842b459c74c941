// Package invocationlog provides sinks for agent invocation records.
package invocationlog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aixgo-dev/composer/agent"
)

// SlogLogger writes one structured log record per invocation
type SlogLogger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogLogger logs at info level; a nil logger uses slog.Default()
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger, level: slog.LevelInfo}
}

// LogInvocation implements agent.InvocationLogger
func (l *SlogLogger) LogInvocation(ctx context.Context, inv agent.Invocation) error {
	attrs := []slog.Attr{
		slog.String("invocation_id", inv.ID),
		slog.String("agent", inv.Agent),
		slog.Int("input_length", len(inv.Input)),
		slog.Int("messages", len(inv.Messages)),
		slog.Duration("duration", inv.Duration),
	}
	if inv.Error != "" {
		attrs = append(attrs, slog.String("error", inv.Error))
	}
	l.logger.LogAttrs(ctx, l.level, "agent invocation", attrs...)
	return nil
}

// Multi fans an invocation out to every logger and joins their errors
func Multi(loggers ...agent.InvocationLogger) agent.InvocationLogger {
	return agent.InvocationLoggerFunc(func(ctx context.Context, inv agent.Invocation) error {
		var errs []error
		for _, l := range loggers {
			if err := l.LogInvocation(ctx, inv); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
