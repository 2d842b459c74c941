// Package pipeline composes typed processing stages: sequencing, concurrent
// fan-out that merges into a shared carrier, and bounded retry.
package pipeline

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/composer/internal/observability"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Stage is one step of a pipeline
type Stage[In, Out any] func(ctx context.Context, in In) (Out, error)

// Lift turns an infallible function into a Stage
func Lift[In, Out any](fn func(In) Out) Stage[In, Out] {
	return func(_ context.Context, in In) (Out, error) {
		return fn(in), nil
	}
}

// Then runs a and feeds its output to b
func Then[A, B, C any](a Stage[A, B], b Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, in A) (C, error) {
		mid, err := a(ctx, in)
		if err != nil {
			var zero C
			return zero, err
		}
		return b(ctx, mid)
	}
}

// Sequence runs stages in order, each on the previous stage's output.
// It stops at the first error.
func Sequence[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, in T) (T, error) {
		cur := in
		for _, s := range stages {
			next, err := s(ctx, cur)
			if err != nil {
				var zero T
				return zero, err
			}
			cur = next
		}
		return cur, nil
	}
}

// Assign computes a value from a snapshot of the carrier and returns a setter
// that stores it
type Assign[T any] func(ctx context.Context, snapshot T) (func(*T), error)

// ParallelAssign runs every assign concurrently against a shallow copy of the
// carrier. Setters are applied in declared order once all assigns succeed;
// on the first error the carrier is left untouched.
func ParallelAssign[T any](assigns ...Assign[T]) Stage[*T, *T] {
	return func(ctx context.Context, carrier *T) (*T, error) {
		if carrier == nil {
			return nil, fmt.Errorf("parallel assign: nil carrier")
		}
		snapshot := *carrier
		setters := make([]func(*T), len(assigns))

		g, gctx := errgroup.WithContext(ctx)
		for i, assign := range assigns {
			g.Go(func() error {
				set, err := assign(gctx, snapshot)
				if err != nil {
					return err
				}
				setters[i] = set
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, set := range setters {
			if set != nil {
				set(carrier)
			}
		}
		return carrier, nil
	}
}

// Named wraps a stage in a "pipeline.<name>" span
func Named[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) (Out, error) {
		ctx, span := observability.StartSpan(ctx, "pipeline."+name)
		defer span.End()

		out, err := stage(ctx, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
}
