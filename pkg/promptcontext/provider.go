// Package promptcontext assembles prompt context from named providers.
//
// Providers declare the parameters they need. A Registry resolves a requested
// list of provider names in two phases: every required parameter of every
// requested provider is checked first, and only then are all providers
// resolved concurrently. Results keep the requested order.
package promptcontext

import (
	"context"
	"fmt"
	"strings"
)

// Params carries the values providers resolve against (e.g. "user", "date")
type Params map[string]any

// Has reports whether key is present with a non-nil value
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value for key when it is a string
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// ParamSpec lists required and optional parameter names
type ParamSpec struct {
	Required []string
	Optional []string
}

// Provider produces one context fragment. Returning an empty string means the
// provider has nothing to contribute; it is dropped from the result.
type Provider interface {
	Name() string
	Description() string
	Params() ParamSpec
	// TemplateVariables names placeholders the fragment fills, for prompt authors
	TemplateVariables() []string
	Resolve(ctx context.Context, params Params) (string, error)
}

// ResolveFunc resolves a fragment from validated params
type ResolveFunc func(ctx context.Context, params Params) (string, error)

// Definition is a Provider built from a function
type Definition struct {
	ProviderName string
	Desc         string
	Spec         ParamSpec
	Variables    []string
	ResolveFn    ResolveFunc
}

// Name implements Provider
func (d *Definition) Name() string { return d.ProviderName }

// Description implements Provider
func (d *Definition) Description() string { return d.Desc }

// Params implements Provider
func (d *Definition) Params() ParamSpec { return d.Spec }

// TemplateVariables implements Provider
func (d *Definition) TemplateVariables() []string { return d.Variables }

// Resolve implements Provider
func (d *Definition) Resolve(ctx context.Context, params Params) (string, error) {
	if d.ResolveFn == nil {
		return "", fmt.Errorf("context provider %q has no resolve function", d.ProviderName)
	}
	return d.ResolveFn(ctx, params)
}

// Violation is one missing required parameter
type Violation struct {
	Provider string
	Param    string
}

// MissingParamsError aggregates every missing required parameter across all
// requested providers
type MissingParamsError struct {
	Violations []Violation
}

func (e *MissingParamsError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s requires %q", v.Provider, v.Param)
	}
	return "missing required context params: " + strings.Join(parts, "; ")
}

// Params returns the distinct missing parameter names in first-seen order
func (e *MissingParamsError) Params() []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range e.Violations {
		if !seen[v.Param] {
			seen[v.Param] = true
			out = append(out, v.Param)
		}
	}
	return out
}

// UnknownProviderError lists requested provider names that are not registered
type UnknownProviderError struct {
	Names []string
}

func (e *UnknownProviderError) Error() string {
	return "unknown context provider(s): " + strings.Join(e.Names, ", ")
}
