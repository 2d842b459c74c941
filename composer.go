// Package composer builds a running set of agents from configuration: model
// providers, the prompt store, invocation sinks, context providers and the
// declared agents with their sub-agent batches.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/aixgo-dev/composer/agent"
	"github.com/aixgo-dev/composer/internal/contexts"
	"github.com/aixgo-dev/composer/internal/graph"
	"github.com/aixgo-dev/composer/internal/plans"
	"github.com/aixgo-dev/composer/pkg/config"
	"github.com/aixgo-dev/composer/pkg/invocationlog"
	"github.com/aixgo-dev/composer/pkg/llm/provider"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"github.com/aixgo-dev/composer/pkg/prompt"
	"github.com/aixgo-dev/composer/pkg/promptcontext"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnknownAgent is returned for names not declared in the configuration
	ErrUnknownAgent = graph.ErrUnknownAgent

	// ErrAgentCycle is returned when sub-agent references form a cycle
	ErrAgentCycle = graph.ErrCycle
)

// Composer holds everything compiled from one Config. It is safe for
// concurrent use once New returns.
type Composer struct {
	cfg    *config.Config
	logger *slog.Logger

	providers map[string]provider.Provider
	prompts   prompt.Store
	invLogger agent.InvocationLogger
	contexts  *promptcontext.Registry
	health    *metrics.HealthChecker

	agents  map[string]*agent.Agent
	closers []func() error
}

type options struct {
	logger    *slog.Logger
	providers map[string]provider.Provider
	prompts   prompt.Store
	invLogger agent.InvocationLogger
	services  *contexts.Services
}

// Option customizes New
type Option func(*options)

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProvider supplies a provider instance instead of building it from the
// providers section
func WithProvider(name string, p provider.Provider) Option {
	return func(o *options) {
		if o.providers == nil {
			o.providers = make(map[string]provider.Provider)
		}
		o.providers[name] = p
	}
}

// WithPromptStore replaces the configured prompt store
func WithPromptStore(s prompt.Store) Option {
	return func(o *options) { o.prompts = s }
}

// WithInvocationLogger replaces the configured invocation sinks
func WithInvocationLogger(l agent.InvocationLogger) Option {
	return func(o *options) { o.invLogger = l }
}

// WithContextServices registers the domain context providers backed by svc
func WithContextServices(svc contexts.Services) Option {
	return func(o *options) { o.services = &svc }
}

// New builds a Composer from a finalized config. On error everything opened
// so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Composer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	metrics.InitMetrics()

	c := &Composer{
		cfg:       cfg,
		logger:    o.logger.With("component", "composer"),
		providers: make(map[string]provider.Provider),
		health:    metrics.NewHealthChecker(),
		agents:    make(map[string]*agent.Agent),
	}
	c.health.RegisterCheck(metrics.PingCheck())
	if err := c.build(ctx, cfg, o); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.logger.Info("composer ready", "agents", len(c.agents), "providers", len(c.providers))
	return c, nil
}

func (c *Composer) build(ctx context.Context, cfg *config.Config, o options) error {
	if err := c.buildProviders(cfg, o.providers); err != nil {
		return err
	}
	if err := c.buildPromptStore(ctx, cfg, o.prompts); err != nil {
		return err
	}
	if err := c.buildInvocationLog(ctx, cfg, o.invLogger); err != nil {
		return err
	}

	c.contexts = promptcontext.NewRegistry()
	if o.services != nil {
		if err := contexts.Register(c.contexts, *o.services); err != nil {
			return fmt.Errorf("register context providers: %w", err)
		}
	}
	c.contexts.Seal()

	return c.compileAgents(ctx, cfg.Agents)
}

// buildProviders creates one provider per name referenced by a model entry
func (c *Composer) buildProviders(cfg *config.Config, supplied map[string]provider.Provider) error {
	names := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		if !slices.Contains(names, m.Provider) {
			names = append(names, m.Provider)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		p, ok := supplied[name]
		if !ok {
			var err error
			if p, err = provider.New(name, cfg.Providers[name]); err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
		}
		if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
			p = provider.NewRateLimitedProvider(p, rl.RequestsPerSecond, rl.Burst)
		}
		c.providers[name] = provider.WrapProvider(p)
	}
	return nil
}

func (c *Composer) buildPromptStore(ctx context.Context, cfg *config.Config, supplied prompt.Store) error {
	if supplied != nil {
		c.prompts = supplied
		return nil
	}

	switch cfg.Prompts.Backend {
	case config.BackendRedis:
		store, err := prompt.NewRedisStore(cfg.Prompts.Redis)
		if err != nil {
			return fmt.Errorf("prompt store: %w", err)
		}
		c.prompts = store
		c.closers = append(c.closers, store.Close)
		c.health.RegisterCheck(metrics.DependencyCheck("prompts-redis", true, store.Ping))
	case config.BackendPostgres:
		store, err := prompt.OpenSQLStore(ctx, cfg.Prompts.DSN)
		if err != nil {
			return fmt.Errorf("prompt store: %w", err)
		}
		c.prompts = store
		c.closers = append(c.closers, store.Close)
		c.health.RegisterCheck(metrics.DependencyCheck("prompts-postgres", true, store.Ping))
	default:
		c.prompts = prompt.NewMemoryStore(cfg.Prompts.Seed)
	}
	return nil
}

func (c *Composer) buildInvocationLog(ctx context.Context, cfg *config.Config, supplied agent.InvocationLogger) error {
	if supplied != nil {
		c.invLogger = supplied
		return nil
	}

	var sinks []agent.InvocationLogger
	for _, sink := range cfg.InvocationLog.Sinks {
		switch sink {
		case config.BackendSlog:
			sinks = append(sinks, invocationlog.NewSlogLogger(c.logger))
		case config.BackendRedis:
			rc := cfg.InvocationLog.Redis
			client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
			l := invocationlog.NewRedisLoggerFromClient(client, rc.Stream, rc.MaxLen)
			sinks = append(sinks, l)
			c.closers = append(c.closers, l.Close)
			c.health.RegisterCheck(metrics.DependencyCheck("invocations-redis", false, func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}))
		case config.BackendPostgres:
			l, err := invocationlog.OpenSQLLogger(ctx, cfg.InvocationLog.DSN)
			if err != nil {
				return fmt.Errorf("invocation log: %w", err)
			}
			sinks = append(sinks, l)
			c.closers = append(c.closers, l.Close)
			c.health.RegisterCheck(metrics.DependencyCheck("invocations-postgres", false, l.Ping))
		}
	}
	switch len(sinks) {
	case 0:
	case 1:
		c.invLogger = sinks[0]
	default:
		c.invLogger = invocationlog.Multi(sinks...)
	}
	return nil
}

// modelConfig resolves a model entry by name, falling back to the default
func (c *Composer) modelConfig(name string) (agent.ModelConfig, error) {
	if name == "" {
		name = c.cfg.DefaultModel
	}
	m, ok := c.cfg.Models[name]
	if !ok {
		return agent.ModelConfig{}, fmt.Errorf("unknown model %q", name)
	}
	return agent.ModelConfig{
		Provider:      c.providers[m.Provider],
		Model:         m.Model,
		Temperature:   m.Temperature,
		MaxTokens:     m.MaxTokens,
		MaxIterations: c.cfg.ToolLoop.MaxIterations,
	}, nil
}

func (c *Composer) agentOptions() []agent.Option {
	opts := []agent.Option{agent.WithPromptStore(c.prompts), agent.WithLogger(c.logger)}
	if c.invLogger != nil {
		opts = append(opts, agent.WithInvocationLogger(c.invLogger))
	}
	return opts
}

// compileAgents builds declared agents so that every sub-agent reference is
// compiled before the agent that uses it
func (c *Composer) compileAgents(ctx context.Context, decls []config.AgentConfig) error {
	g := graph.New()
	byName := make(map[string]config.AgentConfig, len(decls))
	for _, d := range decls {
		var refs []string
		for _, batch := range d.SubAgents {
			for _, ref := range batch {
				refs = append(refs, ref.Agent)
			}
		}
		if err := g.Add(d.Name, refs...); err != nil {
			return err
		}
		byName[d.Name] = d
	}

	order, err := g.Order()
	if err != nil {
		return err
	}
	for _, name := range order {
		a, err := c.compileAgent(ctx, byName[name])
		if err != nil {
			return err
		}
		c.agents[name] = a
	}
	return nil
}

func (c *Composer) compileAgent(ctx context.Context, decl config.AgentConfig) (*agent.Agent, error) {
	model, err := c.modelConfig(decl.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", decl.Name, err)
	}

	def := agent.Definition{
		Name:         decl.Name,
		SystemPrompt: decl.SystemPrompt,
		Context:      decl.Context,
	}
	if tmpl := decl.UserPromptTemplate; tmpl != "" {
		def.UserPrompt = func(input string) string { return tmpl + "\n\n" + input }
	}
	if len(decl.Schema) > 0 {
		raw, err := json.Marshal(decl.Schema)
		if err != nil {
			return nil, fmt.Errorf("agent %s: encode schema: %w", decl.Name, err)
		}
		if def.Schema, err = provider.ParseSchema(raw); err != nil {
			return nil, fmt.Errorf("agent %s: %w", decl.Name, err)
		}
	}
	for _, refs := range decl.SubAgents {
		batch := make(agent.Batch, 0, len(refs))
		for _, ref := range refs {
			batch = append(batch, agent.SubAgent{Key: ref.Key, Agent: c.agents[ref.Agent]})
		}
		def.SubAgents = append(def.SubAgents, batch)
	}

	return agent.Create(ctx, def, model, c.agentOptions()...)
}

// Agent returns a compiled agent by name
func (c *Composer) Agent(name string) (*agent.Agent, bool) {
	a, ok := c.agents[name]
	return a, ok
}

// Agents returns the declared agent names, sorted
func (c *Composer) Agents() []string {
	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invoke runs a declared agent
func (c *Composer) Invoke(ctx context.Context, name, input string) (*agent.Output, error) {
	a, ok := c.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a.Invoke(ctx, input)
}

// Generator builds a plan generator for kind on the default model
func (c *Composer) Generator(ctx context.Context, kind plans.Kind) (*plans.Generator, error) {
	model, err := c.modelConfig("")
	if err != nil {
		return nil, err
	}
	return plans.NewGenerator(ctx, kind, plans.Config{
		Model:            model,
		Prompts:          c.prompts,
		Contexts:         c.contexts,
		Retry:            c.cfg.Pipelines.Retry,
		StrictCount:      c.cfg.Pipelines.StrictCount,
		InvocationLogger: c.invLogger,
		Logger:           c.logger,
	})
}

// Contexts returns the sealed context registry
func (c *Composer) Contexts() *promptcontext.Registry {
	return c.contexts
}

// HealthChecker returns the checker covering the configured backends
func (c *Composer) HealthChecker() *metrics.HealthChecker {
	return c.health
}

// Close releases backend connections
func (c *Composer) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}
