package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aixgo-dev/composer/pkg/llm/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupArgs struct {
	Exercise string `json:"exercise" description:"exercise name"`
}

func lookupTool(calls *[]string) Tool {
	return NewTool("lookup", "look up an exercise", func(_ context.Context, args lookupArgs) (any, error) {
		*calls = append(*calls, args.Exercise)
		return map[string]string{"exercise": args.Exercise, "muscle": "legs"}, nil
	})
}

func lookupCall(id, exercise string) provider.ToolCall {
	return provider.ToolCall{
		ID:   id,
		Type: "function",
		Function: provider.FunctionCall{
			Name:      "lookup",
			Arguments: json.RawMessage(`{"exercise":"` + exercise + `"}`),
		},
	}
}

func TestExecuteToolLoop_StopsAtMaxIterations(t *testing.T) {
	for _, tt := range []struct {
		name     string
		max      int
		expected int
	}{
		{"default", 0, DefaultMaxIterations},
		{"custom", 3, 3},
	} {
		t.Run(tt.name, func(t *testing.T) {
			mock := provider.NewMockProvider("mock")
			mock.CompletionFunc = func(context.Context, provider.CompletionRequest) (*provider.CompletionResponse, error) {
				resp := provider.ToolCallResponse(lookupCall("call", "squat"))
				resp.Content = "still thinking"
				return resp, nil
			}

			var calls []string
			result, err := ExecuteToolLoop(context.Background(), ToolLoopRequest{
				Agent:         "looper",
				Provider:      mock,
				Request:       provider.CompletionRequest{Messages: []provider.Message{provider.UserMessage("go")}},
				Tools:         []Tool{lookupTool(&calls)},
				MaxIterations: tt.max,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mock.Calls())
			assert.Equal(t, tt.expected, result.Iterations)
			assert.True(t, result.Capped)
			assert.Equal(t, "still thinking", result.Content)
			assert.Len(t, result.ToolCalls, tt.expected)
		})
	}
}

func TestExecuteToolLoop_RunsToolsUntilAnswer(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	mock.CompletionResponses = []*provider.CompletionResponse{
		provider.ToolCallResponse(lookupCall("c1", "squat"), lookupCall("c2", "lunge")),
		provider.TextResponse("Both train legs."),
	}

	var calls []string
	result, err := ExecuteToolLoop(context.Background(), ToolLoopRequest{
		Agent:    "coach",
		Provider: mock,
		Request: provider.CompletionRequest{Messages: []provider.Message{
			provider.SystemMessage("coach"),
			provider.UserMessage("what do squats and lunges train?"),
		}},
		Tools: []Tool{lookupTool(&calls)},
	})
	require.NoError(t, err)

	assert.Equal(t, "Both train legs.", result.Content)
	assert.False(t, result.Capped)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"squat", "lunge"}, calls)

	var roles []string
	for _, m := range result.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "tool", "assistant"}, roles)

	toolMsg := result.Messages[3]
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Equal(t, "lookup", toolMsg.Name)
	assert.JSONEq(t, `{"exercise":"squat","muscle":"legs"}`, toolMsg.Content)

	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "lookup", result.ToolCalls[0].Name)

	// second model call sees the tool results
	reqs := mock.CompletionRequests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 5)
	assert.Len(t, reqs[0].Tools, 1)
	assert.Contains(t, string(reqs[0].Tools[0].Parameters), `"exercise"`)
}

func TestExecuteToolLoop_ToolErrorAborts(t *testing.T) {
	boom := errors.New("catalog offline")
	mock := provider.NewMockProvider("mock")
	mock.CompletionResponses = []*provider.CompletionResponse{
		provider.ToolCallResponse(lookupCall("c1", "squat")),
		provider.TextResponse("unreachable"),
	}

	result, err := ExecuteToolLoop(context.Background(), ToolLoopRequest{
		Agent:    "coach",
		Provider: mock,
		Request:  provider.CompletionRequest{Messages: []provider.Message{provider.UserMessage("go")}},
		Tools: []Tool{{Name: "lookup", Execute: func(context.Context, json.RawMessage) (any, error) {
			return nil, boom
		}}},
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mock.Calls())
}

func TestExecuteToolLoop_UnknownTool(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	mock.CompletionResponses = []*provider.CompletionResponse{
		provider.ToolCallResponse(provider.ToolCall{ID: "x", Function: provider.FunctionCall{Name: "missing"}}),
	}

	_, err := ExecuteToolLoop(context.Background(), ToolLoopRequest{
		Provider: mock,
		Request:  provider.CompletionRequest{Messages: []provider.Message{provider.UserMessage("go")}},
	})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestExecuteToolLoop_ModelErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	mock := provider.NewMockProvider("mock")
	mock.Errors = []error{boom}

	_, err := ExecuteToolLoop(context.Background(), ToolLoopRequest{
		Provider: mock,
		Request:  provider.CompletionRequest{Messages: []provider.Message{provider.UserMessage("go")}},
	})
	assert.Same(t, boom, err)
}

func TestExecuteToolLoop_DoesNotMutateInput(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	mock.CompletionResponses = []*provider.CompletionResponse{
		provider.ToolCallResponse(lookupCall("c1", "squat")),
		provider.TextResponse("done"),
	}
	initial := make([]provider.Message, 1, 10)
	initial[0] = provider.UserMessage("go")

	var calls []string
	_, err := ExecuteToolLoop(context.Background(), ToolLoopRequest{
		Provider: mock,
		Request:  provider.CompletionRequest{Messages: initial},
		Tools:    []Tool{lookupTool(&calls)},
	})
	require.NoError(t, err)
	assert.Equal(t, "go", initial[:1][0].Content)
	assert.Empty(t, initial[1:cap(initial)][0].Role)
}

func TestNewTool_DecodeError(t *testing.T) {
	tool := NewTool("lookup", "", func(context.Context, lookupArgs) (any, error) {
		return "ok", nil
	})
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"exercise": 5}`))
	assert.Error(t, err)
}

func TestToolContent(t *testing.T) {
	s, err := toolContent("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	s, err = toolContent(map[string]int{"reps": 5})
	require.NoError(t, err)
	assert.Equal(t, `{"reps":5}`, s)
}
