package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aixgo-dev/composer/internal/observability"
	"github.com/aixgo-dev/composer/pkg/llm/provider"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"github.com/aixgo-dev/composer/pkg/prompt"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Invocation modes
const (
	ModeText       = "text"
	ModeStructured = "structured"
	ModeTools      = "tools"
)

// Agent is a compiled Definition. It holds no per-invocation state.
type Agent struct {
	def          Definition
	model        ModelConfig
	mode         string
	userTemplate string
	invLogger    InvocationLogger
	logger       *slog.Logger
}

type options struct {
	store     prompt.Store
	invLogger InvocationLogger
	logger    *slog.Logger
}

// Option configures Create
type Option func(*options)

// WithPromptStore sets the store used when a definition has no system prompt
func WithPromptStore(store prompt.Store) Option {
	return func(o *options) { o.store = store }
}

// WithInvocationLogger sets the invocation sink
func WithInvocationLogger(l InvocationLogger) Option {
	return func(o *options) { o.invLogger = l }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Create validates def and compiles it into an Agent. Prompts missing from
// def are fetched from the prompt store here, once.
func Create(ctx context.Context, def Definition, model ModelConfig, opts ...Option) (*Agent, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if err := def.validate(model); err != nil {
		return nil, err
	}

	a := &Agent{
		def:       def,
		model:     model,
		invLogger: o.invLogger,
		logger:    o.logger.With("component", "agent", "agent", def.Name),
	}

	if def.SystemPrompt == "" {
		if o.store == nil {
			return nil, fmt.Errorf("%w: %s: no system prompt and no prompt store", ErrInvalidDefinition, def.Name)
		}
		prompts, err := o.store.GetPrompts(ctx, def.Name)
		if err != nil {
			return nil, fmt.Errorf("fetch prompts for %s: %w", def.Name, err)
		}
		a.def.SystemPrompt = prompts.System
		a.userTemplate = prompts.User
	}

	switch {
	case len(def.Tools) > 0:
		a.mode = ModeTools
	case def.Schema != nil:
		a.mode = ModeStructured
	default:
		a.mode = ModeText
	}
	return a, nil
}

// Name implements Invoker
func (a *Agent) Name() string {
	return a.def.Name
}

// Mode returns text, structured or tools
func (a *Agent) Mode() string {
	return a.mode
}

// Invoke runs the agent on input. Errors from the model, tools or sub-agents
// are returned as is; nothing is retried here.
func (a *Agent) Invoke(ctx context.Context, input string) (*Output, error) {
	ctx, span := observability.StartSpan(ctx, "agent.invoke",
		trace.WithAttributes(
			attribute.String("agent.name", a.def.Name),
			attribute.String("agent.mode", a.mode),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := a.invoke(ctx, input)
	metrics.RecordAgentInvocation(a.def.Name, a.mode, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (a *Agent) invoke(ctx context.Context, input string) (*Output, error) {
	messages := a.buildMessages(input)

	start := time.Now()
	out, err := a.dispatch(ctx, messages)
	a.logInvocation(ctx, input, messages, out, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if len(a.def.SubAgents) == 0 {
		return out, nil
	}

	results, err := ExecuteSubAgents(ctx, SubAgentRequest{
		Batches:         a.def.SubAgents,
		Input:           stringify(out.Response),
		PreviousResults: PreviousResults(ctx),
		ParentName:      a.def.Name,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, err
	}
	out.SubAgents = results
	return out, nil
}

// userMessage applies UserPrompt, then the stored template, then the raw input
func (a *Agent) userMessage(input string) string {
	if a.def.UserPrompt != nil {
		return a.def.UserPrompt(input)
	}
	if a.userTemplate != "" {
		return a.userTemplate + "\n\n" + input
	}
	return input
}

// buildMessages orders system, context, previous messages, then the user message
func (a *Agent) buildMessages(input string) []provider.Message {
	messages := make([]provider.Message, 0, 2+len(a.def.Context)+len(a.def.PreviousMessages))
	if a.def.SystemPrompt != "" {
		messages = append(messages, provider.SystemMessage(a.def.SystemPrompt))
	}
	for _, c := range a.def.Context {
		if strings.TrimSpace(c) == "" {
			continue
		}
		messages = append(messages, provider.UserMessage(c))
	}
	messages = append(messages, a.def.PreviousMessages...)
	return append(messages, provider.UserMessage(a.userMessage(input)))
}

func (a *Agent) completionRequest(messages []provider.Message) provider.CompletionRequest {
	return provider.CompletionRequest{
		Messages:    messages,
		Model:       a.model.Model,
		Temperature: a.model.Temperature,
		MaxTokens:   a.model.MaxTokens,
	}
}

func (a *Agent) dispatch(ctx context.Context, messages []provider.Message) (*Output, error) {
	switch a.mode {
	case ModeTools:
		result, err := ExecuteToolLoop(ctx, ToolLoopRequest{
			Agent:         a.def.Name,
			Provider:      a.model.Provider,
			Request:       a.completionRequest(messages),
			Tools:         a.def.Tools,
			MaxIterations: a.model.maxIterations(),
			Logger:        a.logger,
		})
		if err != nil {
			return nil, err
		}
		return &Output{
			Response:   result.Content,
			Transcript: result.Messages,
			ToolCalls:  result.ToolCalls,
		}, nil

	case ModeStructured:
		resp, err := a.model.Provider.CreateStructured(ctx, provider.StructuredRequest{
			CompletionRequest: a.completionRequest(messages),
			ResponseSchema:    a.def.Schema.JSON(),
			SchemaName:        schemaName(a.def.Name),
		})
		if err != nil {
			return nil, err
		}
		raw := []byte(resp.Data)
		if len(raw) == 0 {
			raw = []byte(resp.Content)
		}
		data, err := provider.DecodeStructured(a.def.Schema, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.def.Name, err)
		}
		return &Output{Response: data, Messages: topLevelMessages(data)}, nil

	default:
		resp, err := a.model.Provider.CreateCompletion(ctx, a.completionRequest(messages))
		if err != nil {
			return nil, err
		}
		return &Output{Response: resp.Content}, nil
	}
}

// logInvocation hands the record to the invocation logger in the background.
// It never blocks and never fails the caller.
func (a *Agent) logInvocation(ctx context.Context, input string, messages []provider.Message, out *Output, err error, d time.Duration) {
	if a.invLogger == nil {
		return
	}
	inv := Invocation{
		ID:        uuid.New().String(),
		Agent:     a.def.Name,
		Input:     input,
		Messages:  messages,
		Duration:  d,
		Timestamp: time.Now().UTC(),
	}
	if out != nil {
		inv.Output = out.Response
	}
	if err != nil {
		inv.Error = err.Error()
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Debug("invocation logger panicked", "panic", r)
			}
		}()
		if err := a.invLogger.LogInvocation(ctx, inv); err != nil {
			a.logger.Debug("invocation logging failed", "error", err)
		}
	}()
}

func topLevelMessages(data json.RawMessage) []string {
	var body struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	return body.Messages
}

// schemaName maps an agent name onto the [a-zA-Z0-9_-] alphabet schema names allow
func schemaName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}
