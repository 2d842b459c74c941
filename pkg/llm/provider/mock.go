package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// MockProvider is a scripted provider for tests. It is safe for concurrent use.
//
// Calls are answered in order: Errors[i] (when non-nil) fails call i, otherwise
// the next queued response of the matching kind is returned. CompletionFunc and
// StructuredFunc, when set, take precedence over the queues.
type MockProvider struct {
	name string

	CompletionResponses []*CompletionResponse
	StructuredResponses []*StructuredResponse
	Errors              []error

	CompletionFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StructuredFunc func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)

	mu              sync.Mutex
	calls           int
	completionIndex int
	structuredIndex int
	completionCalls []CompletionRequest
	structuredCalls []StructuredRequest
}

// NewMockProvider creates a new mock provider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// Name implements Provider
func (m *MockProvider) Name() string {
	return m.name
}

// CreateCompletion implements Provider
func (m *MockProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.completionCalls = append(m.completionCalls, request)
	err := m.nextError()
	fn := m.CompletionFunc
	var resp *CompletionResponse
	if err == nil && fn == nil {
		if m.completionIndex < len(m.CompletionResponses) {
			resp = m.CompletionResponses[m.completionIndex]
			m.completionIndex++
		} else {
			resp = &CompletionResponse{Content: "Mock response", FinishReason: "stop"}
		}
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, request)
	}
	return resp, nil
}

// CreateStructured implements Provider
func (m *MockProvider) CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error) {
	m.mu.Lock()
	m.structuredCalls = append(m.structuredCalls, request)
	err := m.nextError()
	fn := m.StructuredFunc
	var resp *StructuredResponse
	if err == nil && fn == nil {
		if m.structuredIndex < len(m.StructuredResponses) {
			resp = m.StructuredResponses[m.structuredIndex]
			m.structuredIndex++
		} else {
			data, _ := json.Marshal(map[string]any{"message": "Mock structured response"})
			resp = &StructuredResponse{
				Data:               data,
				CompletionResponse: CompletionResponse{Content: string(data), FinishReason: "stop"},
			}
		}
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, request)
	}
	return resp, nil
}

// nextError must be called with mu held
func (m *MockProvider) nextError() error {
	i := m.calls
	m.calls++
	if i < len(m.Errors) {
		return m.Errors[i]
	}
	return nil
}

// Calls returns the total number of calls made
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CompletionRequests returns a copy of the recorded completion requests
func (m *MockProvider) CompletionRequests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.completionCalls...)
}

// StructuredRequests returns a copy of the recorded structured requests
func (m *MockProvider) StructuredRequests() []StructuredRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StructuredRequest(nil), m.structuredCalls...)
}

// TextResponse is a convenience constructor for scripted completions
func TextResponse(content string) *CompletionResponse {
	return &CompletionResponse{Content: content, FinishReason: "stop"}
}

// JSONResponse is a convenience constructor for scripted structured responses
func JSONResponse(v any) *StructuredResponse {
	data, _ := json.Marshal(v)
	return &StructuredResponse{
		Data:               data,
		CompletionResponse: CompletionResponse{Content: string(data), FinishReason: "stop"},
	}
}

// ToolCallResponse scripts a completion that requests the given tool calls
func ToolCallResponse(calls ...ToolCall) *CompletionResponse {
	return &CompletionResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}
