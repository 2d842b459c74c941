package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/aixgo-dev/composer/internal/observability"
	"github.com/aixgo-dev/composer/pkg/logging"
	"github.com/aixgo-dev/composer/pkg/pipeline"
	"github.com/aixgo-dev/composer/pkg/prompt"
	"gopkg.in/yaml.v3"
)

// maxConfigSize bounds config files read by LoadConfig
const maxConfigSize = 1 << 20

// Prompt store and invocation log backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSlog     = "slog"
)

// Config represents the application configuration
type Config struct {
	// DefaultModel names the entry of Models used by agents without a model
	DefaultModel string                 `yaml:"default_model"`
	Models       map[string]ModelConfig `yaml:"models"`

	// Providers holds factory options per provider name (api_key, base_url,
	// project_id, location)
	Providers map[string]map[string]any `yaml:"providers"`

	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Prompts       PromptsConfig       `yaml:"prompts"`
	InvocationLog InvocationLogConfig `yaml:"invocation_log"`
	Logging       logging.Config      `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Pipelines     PipelinesConfig     `yaml:"pipelines"`
	ToolLoop      ToolLoopConfig      `yaml:"tool_loop"`
	Agents        []AgentConfig       `yaml:"agents"`
}

// ModelConfig selects a provider and model
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RateLimitConfig throttles model calls per provider; zero disables it
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PromptsConfig selects the prompt store
type PromptsConfig struct {
	Backend string             `yaml:"backend"`
	Redis   prompt.RedisConfig `yaml:"redis"`
	DSN     string             `yaml:"dsn"`

	// Seed preloads the memory backend
	Seed map[string]prompt.Prompts `yaml:"seed"`
}

// InvocationLogConfig selects invocation sinks
type InvocationLogConfig struct {
	Sinks []string `yaml:"sinks"`

	Redis struct {
		prompt.RedisConfig `yaml:",inline"`
		Stream             string `yaml:"stream"`
		MaxLen             int64  `yaml:"max_len"`
	} `yaml:"redis"`

	DSN string `yaml:"dsn"`
}

// ObservabilityConfig configures tracing and the metrics server
type ObservabilityConfig struct {
	Tracing     observability.Config `yaml:"tracing"`
	MetricsPort int                  `yaml:"metrics_port"`
}

// PipelinesConfig configures the generation pipelines
type PipelinesConfig struct {
	Retry       pipeline.RetryPolicy `yaml:"retry"`
	StrictCount bool                 `yaml:"strict_count"`
}

// ToolLoopConfig bounds tool loops
type ToolLoopConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// AgentConfig declares an agent
type AgentConfig struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`

	// SystemPrompt, when empty, is read from the prompt store
	SystemPrompt       string   `yaml:"system_prompt"`
	UserPromptTemplate string   `yaml:"user_prompt_template"`
	Context            []string `yaml:"context"`

	// Schema is a JSON Schema; when set the agent returns structured output
	Schema map[string]any `yaml:"schema"`

	// SubAgents lists batches of references to other declared agents
	SubAgents [][]SubAgentRef `yaml:"sub_agents"`
}

// SubAgentRef binds a declared agent to a result key
type SubAgentRef struct {
	Key   string `yaml:"key"`
	Agent string `yaml:"agent"`
}

// LoadConfig reads a YAML file, then applies environment fallbacks and
// defaults and validates the result
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and finalizes it like LoadConfig
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies environment fallbacks and defaults, then validates
func (c *Config) Finalize() error {
	c.loadEnv()
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if len(c.Models) == 0 {
		c.Models = map[string]ModelConfig{
			"default": {Provider: "openai", Model: "gpt-4o-mini"},
		}
	}
	if c.DefaultModel == "" && len(c.Models) == 1 {
		for name := range c.Models {
			c.DefaultModel = name
		}
	}
	if c.Prompts.Backend == "" {
		c.Prompts.Backend = BackendMemory
	}
	if len(c.InvocationLog.Sinks) == 0 {
		c.InvocationLog.Sinks = []string{BackendSlog}
	}
	c.Logging.ApplyDefaults()
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = observability.DefaultServiceName
	}
	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = "none"
	}
	if c.Observability.MetricsPort == 0 {
		c.Observability.MetricsPort = 9090
	}
	if c.Pipelines.Retry.MaxAttempts == 0 {
		c.Pipelines.Retry = pipeline.DefaultRetryPolicy()
	}
	if c.ToolLoop.MaxIterations == 0 {
		c.ToolLoop.MaxIterations = 5
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

// loadEnv fills values the file left empty
func (c *Config) loadEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]map[string]any)
	}
	setProviderOption(c.Providers, "openai", "api_key", os.Getenv("OPENAI_API_KEY"))
	setProviderOption(c.Providers, "gemini", "api_key", os.Getenv("GEMINI_API_KEY"))
	setProviderOption(c.Providers, "gemini", "project_id", os.Getenv("GOOGLE_CLOUD_PROJECT"))

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if c.Prompts.Redis.Addr == "" {
			c.Prompts.Redis.Addr = addr
		}
		if c.InvocationLog.Redis.Addr == "" {
			c.InvocationLog.Redis.Addr = addr
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if c.Prompts.DSN == "" {
			c.Prompts.DSN = dsn
		}
		if c.InvocationLog.DSN == "" {
			c.InvocationLog.DSN = dsn
		}
	}
	c.Logging.LoadEnv()
}

func setProviderOption(providers map[string]map[string]any, name, key, value string) {
	if value == "" {
		return
	}
	opts := providers[name]
	if opts == nil {
		opts = make(map[string]any)
		providers[name] = opts
	}
	if s, _ := opts[key].(string); s == "" {
		opts[key] = value
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if _, ok := c.Models[c.DefaultModel]; !ok {
		errs = append(errs, fmt.Errorf("default_model %q is not defined in models", c.DefaultModel))
	}
	for name, m := range c.Models {
		if m.Provider == "" {
			errs = append(errs, fmt.Errorf("models.%s: provider is required", name))
		}
	}

	switch c.Prompts.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Prompts.Redis.Addr == "" {
			errs = append(errs, errors.New("prompts.redis.addr is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Prompts.DSN == "" {
			errs = append(errs, errors.New("prompts.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("prompts.backend %q must be memory, redis or postgres", c.Prompts.Backend))
	}

	for _, sink := range c.InvocationLog.Sinks {
		switch sink {
		case BackendSlog:
		case BackendRedis:
			if c.InvocationLog.Redis.Addr == "" {
				errs = append(errs, errors.New("invocation_log.redis.addr is required for the redis sink"))
			}
		case BackendPostgres:
			if c.InvocationLog.DSN == "" {
				errs = append(errs, errors.New("invocation_log.dsn is required for the postgres sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("invocation_log.sinks: unknown sink %q", sink))
		}
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Pipelines.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipelines.retry: %w", err))
	}
	if c.ToolLoop.MaxIterations < 1 {
		errs = append(errs, errors.New("tool_loop.max_iterations must be at least 1"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must not be negative"))
	}

	errs = append(errs, c.validateAgents()...)
	return errors.Join(errs...)
}

func (c *Config) validateAgents() []error {
	var errs []error
	names := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			errs = append(errs, errors.New("agents: name is required"))
			continue
		}
		if slices.Contains(names, a.Name) {
			errs = append(errs, fmt.Errorf("agents: duplicate agent %q", a.Name))
		}
		names = append(names, a.Name)
		if a.Model != "" {
			if _, ok := c.Models[a.Model]; !ok {
				errs = append(errs, fmt.Errorf("agents.%s: unknown model %q", a.Name, a.Model))
			}
		}
	}

	for _, a := range c.Agents {
		for i, batch := range a.SubAgents {
			for _, ref := range batch {
				if !slices.Contains(names, ref.Agent) {
					errs = append(errs, fmt.Errorf("agents.%s: sub_agents[%d]: unknown agent %q", a.Name, i, ref.Agent))
				}
			}
		}
	}
	return errs
}

// Agent returns the declared agent with the given name
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}
