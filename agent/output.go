package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aixgo-dev/composer/pkg/llm/provider"
)

// Output is the composed result of one invocation
type Output struct {
	// Response is a string in text and tool mode and a json.RawMessage in
	// structured mode
	Response any

	// Messages is copied from a structured response's top-level "messages"
	// string array, when present
	Messages []string

	// Transcript is the full tool-loop message list (tool mode only)
	Transcript []provider.Message

	ToolCalls []ToolCallRecord

	// SubAgents holds sub-agent outputs by key
	SubAgents map[string]any
}

// ToolCallRecord describes one executed tool call
type ToolCallRecord struct {
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
	Result   any             `json:"result"`
	Duration time.Duration   `json:"duration"`
}

// Text returns the response as a string, JSON encoding structured responses
func (o *Output) Text() string {
	if o == nil {
		return ""
	}
	return stringify(o.Response)
}

// Get returns the response for "response" and sub-agent results otherwise
func (o *Output) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	if key == ResponseKey {
		return o.Response, true
	}
	v, ok := o.SubAgents[key]
	return v, ok
}

// MarshalJSON produces {"response": ..., "messages": [...], "<key>": ...}
func (o *Output) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(o.SubAgents)+2)
	for k, v := range o.SubAgents {
		flat[k] = v
	}
	flat[ResponseKey] = o.Response
	if len(o.Messages) > 0 {
		flat[MessagesKey] = o.Messages
	}
	return json.Marshal(flat)
}

// Decode unmarshals a structured response into T
func Decode[T any](o *Output) (T, error) {
	var v T
	if o == nil {
		return v, errors.New("nil output")
	}
	var data []byte
	switch r := o.Response.(type) {
	case json.RawMessage:
		data = r
	case []byte:
		data = r
	case string:
		data = []byte(r)
	default:
		var err error
		if data, err = json.Marshal(r); err != nil {
			return v, err
		}
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// stringify passes strings through and JSON encodes everything else
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.RawMessage:
		return string(s)
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
