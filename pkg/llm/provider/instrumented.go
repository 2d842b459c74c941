package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aixgo-dev/composer/internal/observability"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedProvider wraps a Provider with a span and metrics per call
type InstrumentedProvider struct {
	provider Provider
}

// NewInstrumentedProvider wraps provider with tracing and metrics
func NewInstrumentedProvider(provider Provider) *InstrumentedProvider {
	return &InstrumentedProvider{provider: provider}
}

// WrapProvider instruments a provider unless it already is
func WrapProvider(provider Provider) Provider {
	if _, ok := provider.(*InstrumentedProvider); ok {
		return provider
	}
	return NewInstrumentedProvider(provider)
}

// Unwrap returns the wrapped provider
func (p *InstrumentedProvider) Unwrap() Provider {
	return p.provider
}

// Name returns the underlying provider name
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// CreateCompletion creates a completion with instrumentation
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	ctx, span := p.startSpan(ctx, "completion", request)
	defer span.End()

	start := time.Now()
	resp, err := p.provider.CreateCompletion(ctx, request)
	p.finish(span, "completion", request.Model, start, resp, err)
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) > 0 {
		span.SetAttributes(attribute.Int("llm.tool_calls_count", len(resp.ToolCalls)))
	}
	return resp, nil
}

// CreateStructured creates a structured response with instrumentation
func (p *InstrumentedProvider) CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error) {
	ctx, span := p.startSpan(ctx, "structured", request.CompletionRequest)
	span.SetAttributes(attribute.String("llm.schema_name", request.SchemaName))
	defer span.End()

	start := time.Now()
	resp, err := p.provider.CreateStructured(ctx, request)
	var completion *CompletionResponse
	if resp != nil {
		completion = &resp.CompletionResponse
	}
	p.finish(span, "structured", request.Model, start, completion, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *InstrumentedProvider) startSpan(ctx context.Context, kind string, request CompletionRequest) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, fmt.Sprintf("llm.%s.%s", p.provider.Name(), kind),
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", request.Model),
			attribute.Float64("llm.temperature", request.Temperature),
			attribute.Int("llm.max_tokens", request.MaxTokens),
			attribute.Int("llm.messages_count", len(request.Messages)),
			attribute.Int("llm.tools_count", len(request.Tools)),
		),
	)
}

func (p *InstrumentedProvider) finish(span trace.Span, kind, model string, start time.Time, resp *CompletionResponse, err error) {
	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
		attribute.Bool("llm.success", err == nil),
	)

	var usage Usage
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if resp != nil {
		usage = resp.Usage
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", usage.CompletionTokens),
			attribute.Int("llm.usage.total_tokens", usage.TotalTokens),
			attribute.String("llm.finish_reason", resp.FinishReason),
		)
	}

	metrics.RecordModelCall(p.provider.Name(), model, kind, err, duration, usage.PromptTokens, usage.CompletionTokens)
}
