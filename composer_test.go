package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aixgo-dev/composer/agent"
	"github.com/aixgo-dev/composer/internal/plans"
	"github.com/aixgo-dev/composer/pkg/config"
	"github.com/aixgo-dev/composer/pkg/llm/provider"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"github.com/aixgo-dev/composer/pkg/promptcontext"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

// echoModel answers each text call with "<system prompt>:<last message>"
func echoModel() *provider.MockProvider {
	m := provider.NewMockProvider("echo")
	m.CompletionFunc = func(_ context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		last := req.Messages[len(req.Messages)-1].Content
		return provider.TextResponse(req.Messages[0].Content + ":" + last), nil
	}
	return m
}

// recorder collects invocations
type recorder struct {
	mu     sync.Mutex
	agents []string
}

func (r *recorder) LogInvocation(_ context.Context, inv agent.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, inv.Agent)
	return nil
}

func parseConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newComposer(t *testing.T, cfg *config.Config, model provider.Provider, opts ...Option) *Composer {
	t.Helper()
	opts = append([]Option{WithProvider("openai", model)}, opts...)
	c, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

const composedConfig = `
agents:
  - name: report
    system_prompt: report
    sub_agents:
      - - key: facts
          agent: facts
        - key: tone
          agent: tone
      - - key: summary
          agent: summary
  - name: summary
    system_prompt: summary
  - name: facts
    system_prompt: facts
  - name: tone
    system_prompt: tone
`

func TestNew_CompilesReferencedAgentsFirst(t *testing.T) {
	c := newComposer(t, parseConfig(t, composedConfig), echoModel())
	assert.Equal(t, []string{"facts", "report", "summary", "tone"}, c.Agents())

	out, err := c.Invoke(context.Background(), "report", "week 3")
	require.NoError(t, err)
	assert.Equal(t, "report:week 3", out.Text())

	for _, key := range []string{"facts", "tone", "summary"} {
		v, ok := out.Get(key)
		require.True(t, ok, key)
		// sub-agents receive the parent's response as input
		assert.Equal(t, key+":report:week 3", v.(*agent.Output).Text())
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"response": "report:week 3",
		"facts": {"response": "facts:report:week 3"},
		"tone": {"response": "tone:report:week 3"},
		"summary": {"response": "summary:report:week 3"}
	}`, string(data))
}

func TestNew_RejectsCycles(t *testing.T) {
	cfg := parseConfig(t, `
agents:
  - name: a
    system_prompt: a
    sub_agents: [[{key: b, agent: b}]]
  - name: b
    system_prompt: b
    sub_agents: [[{key: a, agent: a}]]
`)
	_, err := New(context.Background(), cfg, WithProvider("openai", echoModel()))
	assert.ErrorIs(t, err, ErrAgentCycle)
}

func TestNew_MissingProviderCredentials(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	cfg := parseConfig(t, `
models:
  flash: {provider: gemini, model: gemini-2.0-flash}
`)
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "provider gemini")
}

func TestNew_SealsOwnContextRegistry(t *testing.T) {
	first := newComposer(t, parseConfig(t, ""), echoModel())
	second := newComposer(t, parseConfig(t, ""), echoModel())
	require.NotSame(t, first.Contexts(), second.Contexts())

	err := first.Contexts().Register(&promptcontext.Definition{
		ProviderName: "late",
		ResolveFn: func(context.Context, promptcontext.Params) (string, error) {
			return "x", nil
		},
	})
	assert.ErrorIs(t, err, promptcontext.ErrSealed)
}

func TestInvoke_UnknownAgent(t *testing.T) {
	c := newComposer(t, parseConfig(t, ""), echoModel())
	_, err := c.Invoke(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestAgent_SeededPromptsAndTemplate(t *testing.T) {
	cfg := parseConfig(t, `
prompts:
  seed:
    coach: {system: "seeded coach"}
agents:
  - name: coach
    context: ["", "Season: winter"]
  - name: templated
    system_prompt: t
    user_prompt_template: "Answer briefly."
`)
	model := echoModel()
	c := newComposer(t, cfg, model)

	out, err := c.Invoke(context.Background(), "coach", "plan my week")
	require.NoError(t, err)
	assert.Equal(t, "seeded coach:plan my week", out.Text())

	req := model.CompletionRequests()[0]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "Season: winter", req.Messages[1].Content)

	out, err = c.Invoke(context.Background(), "templated", "why?")
	require.NoError(t, err)
	assert.Equal(t, "t:Answer briefly.\n\nwhy?", out.Text())
}

func TestAgent_StructuredFromSchema(t *testing.T) {
	cfg := parseConfig(t, `
agents:
  - name: classify
    system_prompt: classify
    schema:
      type: object
      properties:
        label: {type: string}
        messages: {type: array, items: {type: string}}
      required: [label]
`)
	model := echoModel()
	model.StructuredFunc = func(_ context.Context, req provider.StructuredRequest) (*provider.StructuredResponse, error) {
		assert.Contains(t, string(req.ResponseSchema), `"label"`)
		return provider.JSONResponse(map[string]any{"label": "strength", "messages": []string{"ok"}}), nil
	}
	c := newComposer(t, cfg, model)

	a, ok := c.Agent("classify")
	require.True(t, ok)
	assert.Equal(t, agent.ModeStructured, a.Mode())

	out, err := c.Invoke(context.Background(), "classify", "squats")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out.Messages)
	assert.JSONEq(t, `{"label":"strength","messages":["ok"]}`, out.Text())
}

func TestInvoke_UsesSuppliedInvocationLogger(t *testing.T) {
	rec := &recorder{}
	c := newComposer(t, parseConfig(t, composedConfig), echoModel(), WithInvocationLogger(rec))

	_, err := c.Invoke(context.Background(), "report", "x")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.agents) == 4
	}, testWait, testTick)
}

func TestInvoke_ModelErrorFailsParent(t *testing.T) {
	model := echoModel()
	model.CompletionFunc = func(_ context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		if req.Messages[0].Content == "tone" {
			return nil, errors.New("tone model down")
		}
		return provider.TextResponse("ok"), nil
	}
	c := newComposer(t, parseConfig(t, composedConfig), model)

	_, err := c.Invoke(context.Background(), "report", "x")
	assert.ErrorContains(t, err, "tone model down")
}

func TestNew_RedisPromptBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("composer:prompt:coach", "system", "from redis", "user", "Context:")

	cfg := parseConfig(t, fmt.Sprintf(`
prompts:
  backend: redis
  redis: {addr: %q}
agents:
  - name: coach
`, mr.Addr()))
	c := newComposer(t, cfg, echoModel())

	out, err := c.Invoke(context.Background(), "coach", "hi")
	require.NoError(t, err)
	assert.Equal(t, "from redis:Context:\n\nhi", out.Text())
	assert.Contains(t, c.HealthChecker().Names(), "prompts-redis")

	health := c.HealthChecker().Check(context.Background())
	assert.Equal(t, metrics.HealthStatusHealthy, health.Status)
}

func TestNew_RedisInvocationSink(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := parseConfig(t, fmt.Sprintf(`
invocation_log:
  sinks: [slog, redis]
  redis: {addr: %q, stream: "test:invocations"}
agents:
  - name: a
    system_prompt: a
`, mr.Addr()))
	c := newComposer(t, cfg, echoModel())

	_, err := c.Invoke(context.Background(), "a", "hello")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	assert.Eventually(t, func() bool {
		n, err := client.XLen(context.Background(), "test:invocations").Result()
		return err == nil && n == 1
	}, testWait, testTick)
	assert.Contains(t, c.HealthChecker().Names(), "invocations-redis")
}

func TestGenerator(t *testing.T) {
	var seed strings.Builder
	seed.WriteString("prompts:\n  seed:\n")
	for _, role := range []string{plans.RoleGenerate, plans.RoleFormat, plans.RoleMessage, plans.RoleModify} {
		fmt.Fprintf(&seed, "    %q: {system: %q}\n", plans.KindMesocycle.AgentName(role), role)
	}
	c := newComposer(t, parseConfig(t, seed.String()), echoModel())

	g, err := c.Generator(context.Background(), plans.KindMesocycle)
	require.NoError(t, err)
	assert.Equal(t, "mesocycle", g.Kind().Name)

	_, err = c.Generator(context.Background(), plans.KindFitnessPlan)
	assert.Error(t, err)
}
