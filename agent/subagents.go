package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/aixgo-dev/composer/internal/observability"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// SubAgentRequest describes a sub-agent fan-out
type SubAgentRequest struct {
	Batches []Batch

	// Input is the parent's response, already stringified
	Input string

	// PreviousResults seeds the results visible to the first batch
	PreviousResults map[string]any

	ParentName string
	Logger     *slog.Logger
}

type previousResultsKey struct{}

// WithPreviousResults returns a context carrying results of earlier batches
func WithPreviousResults(ctx context.Context, results map[string]any) context.Context {
	return context.WithValue(ctx, previousResultsKey{}, results)
}

// PreviousResults returns the results of earlier batches visible to a
// sub-agent. The map must not be modified.
func PreviousResults(ctx context.Context) map[string]any {
	results, _ := ctx.Value(previousResultsKey{}).(map[string]any)
	return results
}

// ExecuteSubAgents runs batches in order and the entries of each batch
// concurrently. The first failing entry fails the call; results of its batch
// and all later batches are discarded. Results merge by key after each batch,
// a later batch replacing an earlier result with the same key.
//
// A failure cancels the context passed to its siblings, but the call still
// waits for every sibling to return. Failing fast therefore depends on
// sub-agents honoring context cancellation.
//
// The returned map holds only results produced by this call.
func ExecuteSubAgents(ctx context.Context, req SubAgentRequest) (map[string]any, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	visible := maps.Clone(req.PreviousResults)
	if visible == nil {
		visible = make(map[string]any)
	}
	results := make(map[string]any)

	for i, batch := range req.Batches {
		outputs, err := runBatch(ctx, req.ParentName, i, batch, req.Input, visible)
		metrics.RecordSubAgentBatch(req.ParentName, err)
		if err != nil {
			return nil, err
		}

		for j, sa := range batch {
			if outputs[j] == nil {
				continue
			}
			if _, exists := results[sa.Key]; exists {
				logger.Debug("sub-agent result replaced by later batch", "parent", req.ParentName, "key", sa.Key, "batch", i)
			}
			results[sa.Key] = outputs[j]
			visible[sa.Key] = outputs[j]
		}
	}
	return results, nil
}

// runBatch returns one output per entry; skipped entries are nil
func runBatch(ctx context.Context, parent string, index int, batch Batch, input string, visible map[string]any) ([]*Output, error) {
	ctx, span := observability.StartSpan(ctx, "agent.subagents.batch",
		trace.WithAttributes(
			attribute.String("agent.parent", parent),
			attribute.Int("batch.index", index),
			attribute.Int("batch.size", len(batch)),
		),
	)
	defer span.End()

	// each batch sees a snapshot so concurrent readers never race the merge
	ctx = WithPreviousResults(ctx, maps.Clone(visible))

	outputs := make([]*Output, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for j, sa := range batch {
		if sa.Condition != nil && !sa.Condition(input) {
			continue
		}
		subInput := input
		if sa.Transform != nil {
			subInput = sa.Transform(input)
		}
		g.Go(func() error {
			out, err := sa.Agent.Invoke(gctx, subInput)
			if err != nil {
				return fmt.Errorf("%s: sub-agent %q: %w", parent, sa.Key, err)
			}
			outputs[j] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return outputs, nil
}
