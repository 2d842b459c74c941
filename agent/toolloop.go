package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aixgo-dev/composer/internal/observability"
	"github.com/aixgo-dev/composer/pkg/llm/provider"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ToolLoopRequest configures one tool loop run
type ToolLoopRequest struct {
	// Agent names the caller for logs and metrics
	Agent    string
	Provider provider.Provider

	// Request carries the initial messages and model settings; its Tools are
	// replaced by the definitions of Tools
	Request provider.CompletionRequest
	Tools   []Tool

	// MaxIterations caps model calls (default 5)
	MaxIterations int
	Logger        *slog.Logger
}

// ToolLoopResult is the outcome of a tool loop
type ToolLoopResult struct {
	// Content is the last non-empty text the model produced
	Content   string
	Messages  []provider.Message
	ToolCalls []ToolCallRecord

	// Iterations counts model calls
	Iterations int

	// Capped is true when the loop stopped at MaxIterations with tool calls pending
	Capped bool
}

// ExecuteToolLoop calls the model, runs any requested tools, feeds their
// results back and repeats until the model answers without tool calls or
// MaxIterations model calls have been made. Hitting the cap is not an error.
// A failing tool aborts the loop.
func ExecuteToolLoop(ctx context.Context, req ToolLoopRequest) (*ToolLoopResult, error) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tools := make(map[string]Tool, len(req.Tools))
	defs := make([]provider.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools[t.Name] = t
		defs = append(defs, t.definition())
	}

	creq := req.Request
	creq.Tools = defs
	creq.Messages = append([]provider.Message(nil), req.Request.Messages...)

	result := &ToolLoopResult{}
	for result.Iterations < maxIterations {
		resp, err := callModel(ctx, req.Provider, creq, req.Agent, result.Iterations)
		if err != nil {
			return nil, err
		}
		result.Iterations++
		if resp.Content != "" {
			result.Content = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			creq.Messages = append(creq.Messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})
			result.Messages = creq.Messages
			return result, nil
		}

		creq.Messages = append(creq.Messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			record, content, err := runTool(ctx, tools, call)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", req.Agent, err)
			}
			result.ToolCalls = append(result.ToolCalls, record)
			creq.Messages = append(creq.Messages, provider.ToolResultMessage(call, content))
		}
	}

	result.Capped = true
	result.Messages = creq.Messages
	metrics.RecordToolLoopCap(req.Agent)
	logger.Warn("tool loop reached max iterations",
		"agent", req.Agent,
		"max_iterations", maxIterations,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

func callModel(ctx context.Context, p provider.Provider, req provider.CompletionRequest, agentName string, iteration int) (*provider.CompletionResponse, error) {
	ctx, span := observability.StartSpan(ctx, "agent.toolloop.iteration",
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.Int("toolloop.iteration", iteration),
		),
	)
	defer span.End()

	resp, err := p.CreateCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("toolloop.tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

func runTool(ctx context.Context, tools map[string]Tool, call provider.ToolCall) (ToolCallRecord, string, error) {
	name := call.Function.Name
	ctx, span := observability.StartSpan(ctx, "agent.tool."+name,
		trace.WithAttributes(attribute.String("tool.call_id", call.ID)),
	)
	defer span.End()

	record := ToolCallRecord{Name: name, Args: call.Function.Arguments}

	tool, ok := tools[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return record, "", err
	}

	start := time.Now()
	result, err := tool.Execute(ctx, call.Function.Arguments)
	record.Duration = time.Since(start)
	metrics.RecordToolCall(name, err, record.Duration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return record, "", fmt.Errorf("tool %q: %w", name, err)
	}
	record.Result = result

	content, err := toolContent(result)
	if err != nil {
		return record, "", fmt.Errorf("tool %q: encode result: %w", name, err)
	}
	return record, content, nil
}

func toolContent(result any) (string, error) {
	switch r := result.(type) {
	case string:
		return r, nil
	case json.RawMessage:
		return string(r), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
