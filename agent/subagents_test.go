package agent

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcAgent is an Invoker backed by a function
type funcAgent struct {
	name string
	fn   func(ctx context.Context, input string) (*Output, error)
}

func (a *funcAgent) Name() string { return a.name }

func (a *funcAgent) Invoke(ctx context.Context, input string) (*Output, error) {
	return a.fn(ctx, input)
}

func textAgent(name, response string) *funcAgent {
	return &funcAgent{name: name, fn: func(context.Context, string) (*Output, error) {
		return &Output{Response: response}, nil
	}}
}

// eventLog records ordered events from concurrent agents
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.events, e)
}

func TestExecuteSubAgents_BatchOrdering(t *testing.T) {
	log := &eventLog{}

	var started sync.WaitGroup
	started.Add(2)
	bothStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(bothStarted)
	}()

	// a and b can only finish once both have started
	concurrent := func(name string) *funcAgent {
		return &funcAgent{name: name, fn: func(ctx context.Context, input string) (*Output, error) {
			log.add(name + ":start")
			started.Done()
			select {
			case <-bothStarted:
			case <-time.After(2 * time.Second):
				return nil, errors.New(name + " never saw its sibling start")
			}
			log.add(name + ":end")
			return &Output{Response: name + " got " + input}, nil
		}}
	}
	c := &funcAgent{name: "c", fn: func(ctx context.Context, input string) (*Output, error) {
		log.add("c:start")
		prev := PreviousResults(ctx)
		assert.Contains(t, prev, "a")
		assert.Contains(t, prev, "b")
		return &Output{Response: "c"}, nil
	}}

	results, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches: []Batch{
			{{Key: "a", Agent: concurrent("a")}, {Key: "b", Agent: concurrent("b")}},
			{{Key: "c", Agent: c}},
		},
		Input:      "main",
		ParentName: "parent",
	})
	require.NoError(t, err)

	lastStart := max(log.index("a:start"), log.index("b:start"))
	firstEnd := min(log.index("a:end"), log.index("b:end"))
	lastEnd := max(log.index("a:end"), log.index("b:end"))
	assert.Less(t, lastStart, firstEnd, "a and b must overlap")
	assert.Greater(t, log.index("c:start"), lastEnd, "c must start after batch 1")

	require.Len(t, results, 3)
	assert.Equal(t, "a got main", results["a"].(*Output).Text())
	assert.Equal(t, "b got main", results["b"].(*Output).Text())
}

func TestExecuteSubAgents_FailFast(t *testing.T) {
	var cCalls atomic.Int32
	boom := errors.New("b failed")

	_, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches: []Batch{
			{
				{Key: "a", Agent: textAgent("a", "ok")},
				{Key: "b", Agent: &funcAgent{name: "b", fn: func(context.Context, string) (*Output, error) {
					return nil, boom
				}}},
			},
			{{Key: "c", Agent: &funcAgent{name: "c", fn: func(context.Context, string) (*Output, error) {
				cCalls.Add(1)
				return &Output{Response: "c"}, nil
			}}}},
		},
		Input:      "main",
		ParentName: "parent",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `sub-agent "b"`)
	assert.Zero(t, cCalls.Load())
}

func TestExecuteSubAgents_FailureCancelsSiblings(t *testing.T) {
	cancelled := make(chan struct{})
	slow := &funcAgent{name: "slow", fn: func(ctx context.Context, _ string) (*Output, error) {
		select {
		case <-ctx.Done():
			close(cancelled)
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return &Output{Response: "too late"}, nil
		}
	}}
	failing := &funcAgent{name: "failing", fn: func(context.Context, string) (*Output, error) {
		return nil, errors.New("fail")
	}}

	_, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches: []Batch{{{Key: "slow", Agent: slow}, {Key: "failing", Agent: failing}}},
	})
	require.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling context was not cancelled")
	}
}

func TestExecuteSubAgents_WaitsForSiblingIgnoringCancel(t *testing.T) {
	const delay = 100 * time.Millisecond
	boom := errors.New("fast failure")
	stubborn := &funcAgent{name: "stubborn", fn: func(context.Context, string) (*Output, error) {
		time.Sleep(delay)
		return &Output{Response: "late"}, nil
	}}
	failing := &funcAgent{name: "failing", fn: func(context.Context, string) (*Output, error) {
		return nil, boom
	}}

	start := time.Now()
	results, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches:    []Batch{{{Key: "stubborn", Agent: stubborn}, {Key: "failing", Agent: failing}}},
		Input:      "main",
		ParentName: "parent",
	})

	assert.ErrorIs(t, err, boom)
	assert.Nil(t, results)
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestExecuteSubAgents_LaterBatchOverwritesKey(t *testing.T) {
	results, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches: []Batch{
			{{Key: "draft", Agent: textAgent("v1", "first")}},
			{{Key: "draft", Agent: textAgent("v2", "second")}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", results["draft"].(*Output).Text())
}

func TestExecuteSubAgents_ConditionAndTransform(t *testing.T) {
	var got atomic.Value
	recorder := &funcAgent{name: "rec", fn: func(_ context.Context, input string) (*Output, error) {
		got.Store(input)
		return &Output{Response: input}, nil
	}}

	results, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches: []Batch{{
			{Key: "upper", Agent: recorder, Transform: func(s string) string { return s + "!" }},
			{Key: "never", Agent: textAgent("never", "x"), Condition: func(string) bool { return false }},
		}},
		Input: "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "main!", got.Load())
	assert.NotContains(t, results, "never")
}

func TestExecuteSubAgents_PreviousResultsSeed(t *testing.T) {
	var seen map[string]any
	reader := &funcAgent{name: "reader", fn: func(ctx context.Context, _ string) (*Output, error) {
		seen = PreviousResults(ctx)
		return &Output{Response: "ok"}, nil
	}}

	results, err := ExecuteSubAgents(context.Background(), SubAgentRequest{
		Batches:         []Batch{{{Key: "reader", Agent: reader}}},
		PreviousResults: map[string]any{"seed": "value"},
	})
	require.NoError(t, err)
	assert.Equal(t, "value", seen["seed"])
	assert.NotContains(t, results, "seed")
}

func TestExecuteSubAgents_NoBatches(t *testing.T) {
	results, err := ExecuteSubAgents(context.Background(), SubAgentRequest{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
