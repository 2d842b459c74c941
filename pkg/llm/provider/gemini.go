package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel  = "gemini-2.0-flash"
	geminiClientTimeout = 30 * time.Second
)

func init() {
	RegisterFactory("gemini", func(config map[string]any) (Provider, error) {
		cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}

		if project := stringOption(config, "project_id"); project != "" {
			cc.Backend = genai.BackendVertexAI
			cc.Project = project
			cc.Location = stringOption(config, "location")
			if cc.Location == "" {
				cc.Location = "us-central1"
			}
		} else {
			cc.APIKey = stringOption(config, "api_key")
			if cc.APIKey == "" {
				cc.APIKey = os.Getenv("GEMINI_API_KEY")
			}
			if cc.APIKey == "" {
				return nil, fmt.Errorf("GEMINI_API_KEY not set")
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), geminiClientTimeout)
		defer cancel()
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return NewGeminiProvider(client.Models), nil
	})
}

// ContentGenerator is the subset of genai.Models used by GeminiProvider
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements Provider using the Google Gen AI SDK
type GeminiProvider struct {
	models ContentGenerator
}

// NewGeminiProvider wraps a content generator, normally (*genai.Client).Models
func NewGeminiProvider(models ContentGenerator) *GeminiProvider {
	return &GeminiProvider{models: models}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// CreateCompletion generates content, declaring tools when present
func (p *GeminiProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	config := p.buildConfig(req)
	contents, system := buildGeminiContents(req.Messages)
	config.SystemInstruction = system
	if len(req.Tools) > 0 {
		config.Tools = buildGeminiTools(req.Tools)
	}

	resp, err := p.models.GenerateContent(ctx, geminiModel(req.Model), contents, config)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.parseResponse(resp)
}

// CreateStructured generates JSON constrained by the response schema
func (p *GeminiProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	config := p.buildConfig(req.CompletionRequest)
	config.ResponseMIMEType = "application/json"
	if len(req.ResponseSchema) > 0 {
		if schema, err := ParseSchema(req.ResponseSchema); err == nil {
			config.ResponseSchema = toGeminiSchema(schema)
		}
	}
	contents, system := buildGeminiContents(req.Messages)
	config.SystemInstruction = system

	resp, err := p.models.GenerateContent(ctx, geminiModel(req.Model), contents, config)
	if err != nil {
		return nil, p.wrapError(err)
	}
	completion, err := p.parseResponse(resp)
	if err != nil {
		return nil, err
	}
	return &StructuredResponse{
		Data:               json.RawMessage(completion.Content),
		CompletionResponse: *completion,
	}, nil
}

func geminiModel(model string) string {
	if model == "" {
		return defaultGeminiModel
	}
	return model
}

func (p *GeminiProvider) buildConfig(req CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return config
}

// buildGeminiContents converts messages to Gen AI contents. System messages are
// joined into the system instruction.
func buildGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.Name,
						Response: toolResponsePayload(m.Content),
					},
				}},
			})
		case RoleAssistant:
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Function.Arguments, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
}

func toolResponsePayload(content string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err == nil {
		return payload
	}
	return map[string]any{"output": content}
}

func buildGeminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			if schema, err := ParseSchema(t.Parameters); err == nil {
				decl.Parameters = toGeminiSchema(schema)
			}
		}
		decls[i] = decl
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts the JSON Schema subset to the SDK's upper-case typed schema
func toGeminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Items:       toGeminiSchema(s.Items),
	}
	for _, e := range s.Enum {
		if str, ok := e.(string); ok {
			out.Enum = append(out.Enum, str)
		}
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	return out
}

func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError(p.Name(), ErrorCodeEmptyResponse, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	out := &CompletionResponse{Raw: resp}

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:   fmt.Sprintf("%s-%d", part.FunctionCall.Name, len(out.ToolCalls)),
					Type: "function",
					Function: FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})
			}
		}
	}
	out.Content = text.String()

	out.FinishReason = strings.ToLower(string(candidate.FinishReason))
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}

	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *GeminiProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if asGenAIError(err, &apiErr) {
		pe := NewProviderError(p.Name(), codeForStatus(apiErr.Code), apiErr.Message, err)
		pe.StatusCode = apiErr.Code
		return pe
	}

	msg := strings.ToLower(err.Error())
	code := ErrorCodeUnknown
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		code = ErrorCodeTimeout
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		code = ErrorCodeRateLimit
	case strings.Contains(msg, "unavailable"):
		code = ErrorCodeServerError
	}
	return NewProviderError(p.Name(), code, err.Error(), err)
}

// asGenAIError unwraps an APIError returned by value or by pointer
func asGenAIError(err error, target *genai.APIError) bool {
	var byValue genai.APIError
	if errors.As(err, &byValue) {
		*target = byValue
		return true
	}
	var byPointer *genai.APIError
	if errors.As(err, &byPointer) && byPointer != nil {
		*target = *byPointer
		return true
	}
	return false
}
