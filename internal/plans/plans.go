// Package plans implements the long-form generation pipelines: a model writes
// a delimited document, the document is split into sections, and formatting
// and summary calls run concurrently over it. A modify variant revises an
// existing document with bounded retry.
package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aixgo-dev/composer/agent"
	"github.com/aixgo-dev/composer/pkg/llm/provider"
	"github.com/aixgo-dev/composer/pkg/pipeline"
	"github.com/aixgo-dev/composer/pkg/prompt"
	"github.com/aixgo-dev/composer/pkg/promptcontext"
	"github.com/aixgo-dev/composer/pkg/sections"
)

// ErrCountMismatch is returned in strict mode when the declared section count
// differs from the extracted one
var ErrCountMismatch = errors.New("section count mismatch")

// Kind describes one family of generated documents
type Kind struct {
	// Name prefixes the agent names, e.g. "mesocycle:generate"
	Name string

	// Pattern splits the long-form document
	Pattern sections.Pattern

	// CountField is the structured field carrying the declared section count
	CountField string
}

var (
	// KindMesocycle is a multi-week block split into microcycles
	KindMesocycle = Kind{Name: "mesocycle", Pattern: sections.Microcycle, CountField: "number_of_microcycles"}

	// KindFitnessPlan is a full plan split into mesocycles
	KindFitnessPlan = Kind{Name: "fitnessPlan", Pattern: sections.Mesocycle, CountField: "number_of_mesocycles"}
)

// AgentName returns the prompt-store name of one of the kind's agents
func (k Kind) AgentName(role string) string {
	return k.Name + ":" + role
}

// Agent roles
const (
	RoleGenerate = "generate"
	RoleFormat   = "format"
	RoleMessage  = "message"
	RoleModify   = "modify"
)

// Config wires a Generator
type Config struct {
	Model    agent.ModelConfig
	Prompts  prompt.Store
	Contexts *promptcontext.Registry
	Retry    pipeline.RetryPolicy

	// StrictCount fails generation when the declared and extracted section
	// counts differ
	StrictCount bool

	InvocationLogger agent.InvocationLogger
	Logger           *slog.Logger
}

// Chain carries one pipeline run's intermediate state
type Chain struct {
	User          string
	Profile       string
	LongForm      string
	CountDeclared bool
	DeclaredCount int
	Sections      []string
	Validation    sections.Validation
	Formatted     json.RawMessage
	Message       string
	WasModified   bool
	Modifications string

	request Request
	change  ModifyRequest
}

// Result is the outcome of Generate or Modify
type Result struct {
	Description   string              `json:"description"`
	Sections      []string            `json:"sections"`
	Validation    sections.Validation `json:"validation"`
	Formatted     json.RawMessage     `json:"formatted"`
	Message       string              `json:"message"`
	WasModified   bool                `json:"wasModified"`
	Modifications string              `json:"modifications,omitempty"`
}

func (c *Chain) result() *Result {
	return &Result{
		Description:   c.LongForm,
		Sections:      c.Sections,
		Validation:    c.Validation,
		Formatted:     c.Formatted,
		Message:       c.Message,
		WasModified:   c.WasModified,
		Modifications: c.Modifications,
	}
}

// Generator runs the generate and modify pipelines for one Kind
type Generator struct {
	kind   Kind
	cfg    Config
	logger *slog.Logger

	// prompts fetched once at construction
	prompts prompt.Store

	format  *agent.Agent
	message *agent.Agent
	modify  *agent.Agent

	generate pipeline.Stage[*Chain, *Chain]
	revise   pipeline.Stage[*Chain, *Chain]
}

// NewGenerator fetches the kind's prompts and compiles its static agents
func NewGenerator(ctx context.Context, kind Kind, cfg Config) (*Generator, error) {
	if cfg.Prompts == nil {
		return nil, errors.New("plans: prompt store is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = pipeline.DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		kind:   kind,
		cfg:    cfg,
		logger: logger.With("component", "plans", "kind", kind.Name),
	}

	cached := prompt.NewMemoryStore(nil)
	for _, role := range []string{RoleGenerate, RoleFormat, RoleMessage, RoleModify} {
		name := kind.AgentName(role)
		p, err := cfg.Prompts.GetPrompts(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load prompts for %s: %w", name, err)
		}
		cached.Put(name, *p)
	}
	g.prompts = cached

	var err error
	if g.format, err = g.newAgent(ctx, RoleFormat, nil, &provider.Schema{Type: "object"}); err != nil {
		return nil, err
	}
	if g.message, err = g.newAgent(ctx, RoleMessage, nil, nil); err != nil {
		return nil, err
	}
	if g.modify, err = g.newAgent(ctx, RoleModify, nil, provider.SchemaFor[modifyResponse]()); err != nil {
		return nil, err
	}

	postprocess := pipeline.ParallelAssign(g.formatStage, g.messageStage)
	g.generate = pipeline.Sequence(
		pipeline.Named(kind.Name+".generate", g.longFormStage),
		pipeline.Named(kind.Name+".extract", g.extractStage),
		pipeline.Named(kind.Name+".postprocess", postprocess),
	)
	g.revise = pipeline.Sequence(
		pipeline.Named(kind.Name+".modify", pipeline.Retry(kind.AgentName(RoleModify), g.modifyStage, cfg.Retry)),
		pipeline.Named(kind.Name+".extract", g.extractStage),
		pipeline.Named(kind.Name+".postprocess", postprocess),
	)
	return g, nil
}

// Kind returns the generator's kind
func (g *Generator) Kind() Kind {
	return g.kind
}

func (g *Generator) newAgent(ctx context.Context, role string, contextStrings []string, schema *provider.Schema) (*agent.Agent, error) {
	opts := []agent.Option{agent.WithPromptStore(g.prompts), agent.WithLogger(g.logger)}
	if g.cfg.InvocationLogger != nil {
		opts = append(opts, agent.WithInvocationLogger(g.cfg.InvocationLogger))
	}
	return agent.Create(ctx, agent.Definition{
		Name:    g.kind.AgentName(role),
		Context: contextStrings,
		Schema:  schema,
	}, g.cfg.Model, opts...)
}

// Request asks for a new document
type Request struct {
	// User identifies the user; it is passed to context providers as "user"
	// unless Params already sets it
	User         string
	Profile      string
	Instructions string

	ContextTypes []string
	Params       promptcontext.Params
}

// Generate writes a new document, splits it and post-processes it
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	chain := &Chain{User: req.User, Profile: req.Profile, request: req}
	out, err := g.generate(ctx, chain)
	if err != nil {
		return nil, err
	}
	return out.result(), nil
}

// ModifyRequest asks for a revision of an existing document
type ModifyRequest struct {
	User    string
	Profile string
	Current string
	Change  string
}

// Modify revises a document. The model call is retried on any error per the
// configured policy; the caller is not told whether a retry happened.
func (g *Generator) Modify(ctx context.Context, req ModifyRequest) (*Result, error) {
	chain := &Chain{User: req.User, Profile: req.Profile, change: req}
	out, err := g.revise(ctx, chain)
	if err != nil {
		return nil, err
	}
	return out.result(), nil
}

func (g *Generator) longFormStage(ctx context.Context, c *Chain) (*Chain, error) {
	req := c.request

	var contextStrings []string
	if len(req.ContextTypes) > 0 {
		if g.cfg.Contexts == nil {
			return nil, errors.New("plans: context types requested but no context registry configured")
		}
		params := promptcontext.Params{}
		for k, v := range req.Params {
			params[k] = v
		}
		if !params.Has("user") && req.User != "" {
			params["user"] = req.User
		}
		var err error
		if contextStrings, err = g.cfg.Contexts.Resolve(ctx, req.ContextTypes, params); err != nil {
			return nil, err
		}
	}

	// the generate agent is rebuilt per request because its context varies
	gen, err := g.newAgent(ctx, RoleGenerate, contextStrings, g.generateSchema())
	if err != nil {
		return nil, err
	}
	out, err := gen.Invoke(ctx, generateInput(req))
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(out.Text()), &body); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", gen.Name(), err)
	}
	c.LongForm, _ = body["description"].(string)
	if n, ok := body[g.kind.CountField].(float64); ok {
		c.CountDeclared = true
		c.DeclaredCount = int(n)
	}
	return c, nil
}

func (g *Generator) generateSchema() *provider.Schema {
	return &provider.Schema{
		Type: "object",
		Properties: map[string]*provider.Schema{
			"description":    {Type: "string"},
			g.kind.CountField: {Type: "integer"},
		},
		Required: []string{"description", g.kind.CountField},
	}
}

func generateInput(req Request) string {
	var b strings.Builder
	if req.Profile != "" {
		b.WriteString("Fitness profile:\n")
		b.WriteString(req.Profile)
		b.WriteString("\n\n")
	}
	if req.Instructions != "" {
		b.WriteString("Instructions:\n")
		b.WriteString(req.Instructions)
	}
	return strings.TrimSpace(b.String())
}

func (g *Generator) extractStage(_ context.Context, c *Chain) (*Chain, error) {
	c.Sections = sections.Extract(c.LongForm, g.kind.Pattern)
	if !c.CountDeclared {
		c.Validation = sections.Validation{IsValid: true}
		return c, nil
	}

	c.Validation = sections.ValidateCount(g.kind.Pattern.Label, c.DeclaredCount, c.Sections)
	if !c.Validation.IsValid {
		if g.cfg.StrictCount {
			return nil, fmt.Errorf("%w: %s", ErrCountMismatch, c.Validation.Error)
		}
		g.logger.Warn("section count mismatch", "error", c.Validation.Error)
	}
	return c, nil
}

func (g *Generator) formatStage(ctx context.Context, c Chain) (func(*Chain), error) {
	out, err := g.format.Invoke(ctx, c.LongForm)
	if err != nil {
		return nil, err
	}
	formatted := json.RawMessage(out.Text())
	return func(dst *Chain) { dst.Formatted = formatted }, nil
}

func (g *Generator) messageStage(ctx context.Context, c Chain) (func(*Chain), error) {
	out, err := g.message.Invoke(ctx, c.LongForm)
	if err != nil {
		return nil, err
	}
	message := out.Text()
	return func(dst *Chain) { dst.Message = message }, nil
}

type modifyResponse struct {
	Description   string `json:"description" description:"the full revised document"`
	WasModified   bool   `json:"wasModified"`
	Modifications string `json:"modifications" description:"summary of the changes made"`
}

func (g *Generator) modifyStage(ctx context.Context, c *Chain) (*Chain, error) {
	req := c.change

	var b strings.Builder
	if req.Profile != "" {
		fmt.Fprintf(&b, "Fitness profile:\n%s\n\n", req.Profile)
	}
	fmt.Fprintf(&b, "Current %s:\n%s\n\nRequested change:\n%s", g.kind.Name, req.Current, req.Change)

	out, err := g.modify.Invoke(ctx, b.String())
	if err != nil {
		return nil, err
	}
	resp, err := agent.Decode[modifyResponse](out)
	if err != nil {
		return nil, err
	}

	next := *c
	next.LongForm = resp.Description
	next.WasModified = resp.WasModified
	next.Modifications = resp.Modifications
	return &next, nil
}
