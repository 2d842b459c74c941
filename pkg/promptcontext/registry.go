package promptcontext

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aixgo-dev/composer/internal/observability"
	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrSealed is returned when registering into a sealed registry
var ErrSealed = errors.New("context registry is sealed")

// Registry maps provider names to providers. It is populated at startup,
// sealed, and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	sealed    bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Names must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	name := p.Name()
	if name == "" {
		return errors.New("context provider name is required")
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("context provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error
func (r *Registry) MustRegister(providers ...Provider) {
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Seal makes the registry read-only
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the non-empty fragments of the requested providers in
// request order. Unknown names and missing required params are reported in
// full before any provider runs.
func (r *Registry) Resolve(ctx context.Context, contextTypes []string, params Params) ([]string, error) {
	ctx, span := observability.StartSpan(ctx, "context.resolve",
		trace.WithAttributes(attribute.StringSlice("context.types", contextTypes)),
	)
	defer span.End()

	providers, err := r.lookup(contextTypes)
	if err == nil {
		err = validate(providers, params)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]string, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			out, err := p.Resolve(gctx, params)
			metrics.RecordContextResolution(p.Name(), err)
			if err != nil {
				return fmt.Errorf("resolve context %q: %w", p.Name(), err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fragments := make([]string, 0, len(results))
	for _, out := range results {
		if strings.TrimSpace(out) != "" {
			fragments = append(fragments, out)
		}
	}
	span.SetAttributes(attribute.Int("context.fragments", len(fragments)))
	return fragments, nil
}

func (r *Registry) lookup(contextTypes []string) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(contextTypes))
	var unknown []string
	for _, name := range contextTypes {
		p, ok := r.providers[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		providers = append(providers, p)
	}
	if len(unknown) > 0 {
		return nil, &UnknownProviderError{Names: unknown}
	}
	return providers, nil
}

func validate(providers []Provider, params Params) error {
	var violations []Violation
	for _, p := range providers {
		for _, param := range p.Params().Required {
			if !params.Has(param) {
				violations = append(violations, Violation{Provider: p.Name(), Param: param})
			}
		}
	}
	if len(violations) > 0 {
		return &MissingParamsError{Violations: violations}
	}
	return nil
}
