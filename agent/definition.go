package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aixgo-dev/composer/pkg/llm/provider"
)

// DefaultMaxIterations bounds the tool loop when ModelConfig.MaxIterations is zero
const DefaultMaxIterations = 5

// ResponseKey is the reserved output key holding the agent's own response
const ResponseKey = "response"

// MessagesKey is the reserved output key holding structured-response messages
const MessagesKey = "messages"

var (
	// ErrInvalidDefinition wraps every configuration error reported by Create
	ErrInvalidDefinition = errors.New("invalid agent definition")

	// ErrUnknownTool is returned when the model calls a tool the agent does not have
	ErrUnknownTool = errors.New("unknown tool")
)

// Definition declares an agent. It is read once by Create and never mutated.
type Definition struct {
	// Name identifies the agent and keys the prompt store lookup
	Name string

	// SystemPrompt, when empty, is fetched from the prompt store at build time
	SystemPrompt string

	// UserPrompt builds the user message from the input. It takes precedence
	// over a stored user prompt template.
	UserPrompt func(input string) string

	// Context strings are sent after the system prompt, one message each
	Context []string

	PreviousMessages []provider.Message

	// Tools switch the agent into tool-loop mode
	Tools []Tool

	// Schema switches the agent into structured mode when no tools are set
	Schema *provider.Schema

	SubAgents []Batch
}

// ModelConfig selects the model an agent calls
type ModelConfig struct {
	Provider    provider.Provider
	Model       string
	Temperature float64
	MaxTokens   int

	// MaxIterations caps tool-loop model calls (default 5)
	MaxIterations int
}

func (m ModelConfig) maxIterations() int {
	if m.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return m.MaxIterations
}

// ToolFunc executes a tool call. Non-string results are JSON encoded before
// being returned to the model.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a function the model may call during a tool loop
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Execute     ToolFunc
}

// NewTool builds a tool whose parameters schema is derived from T and whose
// arguments are decoded into T before fn runs.
func NewTool[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  provider.SchemaFor[T]().JSON(),
		Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("decode %s arguments: %w", name, err)
				}
			}
			return fn(ctx, args)
		},
	}
}

func (t Tool) definition() provider.Tool {
	return provider.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Invoker is anything that can be used as a sub-agent
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, input string) (*Output, error)
}

// Batch is a set of sub-agents that run concurrently
type Batch []SubAgent

// SubAgent is one keyed entry of a batch
type SubAgent struct {
	Key   string
	Agent Invoker

	// Transform maps the parent's response to this agent's input (default: unchanged)
	Transform func(parentResponse string) string

	// Condition skips the entry when it returns false (default: always run)
	Condition func(parentResponse string) bool
}

func (d *Definition) validate(model ModelConfig) error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if model.Provider == nil {
		return fmt.Errorf("%w: %s: model provider is required", ErrInvalidDefinition, d.Name)
	}

	for i, m := range d.PreviousMessages {
		if m.Role == provider.RoleSystem {
			return fmt.Errorf("%w: %s: previous message %d has role system; use SystemPrompt", ErrInvalidDefinition, d.Name, i)
		}
	}

	tools := make(map[string]bool, len(d.Tools))
	for _, t := range d.Tools {
		if t.Name == "" || t.Execute == nil {
			return fmt.Errorf("%w: %s: tools need a name and an Execute func", ErrInvalidDefinition, d.Name)
		}
		if tools[t.Name] {
			return fmt.Errorf("%w: %s: duplicate tool %q", ErrInvalidDefinition, d.Name, t.Name)
		}
		tools[t.Name] = true
	}

	for i, batch := range d.SubAgents {
		keys := make(map[string]bool, len(batch))
		for _, sa := range batch {
			switch {
			case sa.Key == "":
				return fmt.Errorf("%w: %s: batch %d has an entry without a key", ErrInvalidDefinition, d.Name, i)
			case sa.Key == ResponseKey, sa.Key == MessagesKey:
				return fmt.Errorf("%w: %s: sub-agent key %q is reserved", ErrInvalidDefinition, d.Name, sa.Key)
			case keys[sa.Key]:
				return fmt.Errorf("%w: %s: duplicate sub-agent key %q in batch %d", ErrInvalidDefinition, d.Name, sa.Key, i)
			case sa.Agent == nil:
				return fmt.Errorf("%w: %s: sub-agent %q has no agent", ErrInvalidDefinition, d.Name, sa.Key)
			}
			keys[sa.Key] = true
		}
	}
	return nil
}
