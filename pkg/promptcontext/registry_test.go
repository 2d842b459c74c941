package promptcontext

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticProvider(name, out string, required ...string) *Definition {
	return &Definition{
		ProviderName: name,
		Spec:         ParamSpec{Required: required},
		ResolveFn: func(context.Context, Params) (string, error) {
			return out, nil
		},
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(staticProvider("user", "u")))

	err := reg.Register(staticProvider("user", "again"))
	assert.Error(t, err)
	assert.Equal(t, []string{"user"}, reg.Names())
}

func TestRegistry_Seal(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(staticProvider("a", "x"))
	reg.Seal()

	err := reg.Register(staticProvider("b", "y"))
	assert.ErrorIs(t, err, ErrSealed)

	_, ok := reg.Get("a")
	assert.True(t, ok)
}

func TestRegistry_ResolveKeepsRequestOrder(t *testing.T) {
	reg := NewRegistry()
	// slower providers first so completion order differs from request order
	reg.MustRegister(
		&Definition{ProviderName: "slow", ResolveFn: func(ctx context.Context, _ Params) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return "slow", nil
		}},
		&Definition{ProviderName: "medium", ResolveFn: func(ctx context.Context, _ Params) (string, error) {
			time.Sleep(5 * time.Millisecond)
			return "medium", nil
		}},
		staticProvider("fast", "fast"),
	)

	got, err := reg.Resolve(context.Background(), []string{"slow", "medium", "fast"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"slow", "medium", "fast"}, got)

	got, err = reg.Resolve(context.Background(), []string{"fast", "slow"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "slow"}, got)
}

func TestRegistry_ResolveDropsEmptyFragments(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		staticProvider("a", "alpha"),
		staticProvider("empty", ""),
		staticProvider("blank", "  \n"),
		staticProvider("b", "beta"),
	)

	got, err := reg.Resolve(context.Background(), []string{"a", "empty", "blank", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, got)
}

func TestRegistry_ValidationRunsBeforeAnyResolve(t *testing.T) {
	var calls atomic.Int32
	counting := func(name string, required ...string) *Definition {
		return &Definition{
			ProviderName: name,
			Spec:         ParamSpec{Required: required},
			ResolveFn: func(context.Context, Params) (string, error) {
				calls.Add(1)
				return name, nil
			},
		}
	}

	reg := NewRegistry()
	reg.MustRegister(
		counting("user", "user"),
		counting("nothing"),
		counting("plan", "user", "planId"),
	)

	_, err := reg.Resolve(context.Background(), []string{"user", "nothing", "plan"}, Params{"date": "2024-01-01"})
	require.Error(t, err)

	var missing *MissingParamsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []Violation{
		{Provider: "user", Param: "user"},
		{Provider: "plan", Param: "user"},
		{Provider: "plan", Param: "planId"},
	}, missing.Violations)
	assert.Equal(t, []string{"user", "planId"}, missing.Params())
	assert.Contains(t, err.Error(), `plan requires "planId"`)
	assert.Zero(t, calls.Load())
}

func TestRegistry_NilParamCountsAsMissing(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(staticProvider("user", "u", "user"))

	_, err := reg.Resolve(context.Background(), []string{"user"}, Params{"user": nil})
	var missing *MissingParamsError
	assert.True(t, errors.As(err, &missing))
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(staticProvider("a", "x"))

	_, err := reg.Resolve(context.Background(), []string{"a", "nope", "other"}, nil)
	var unknown *UnknownProviderError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"nope", "other"}, unknown.Names)
}

func TestRegistry_ResolveErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	reg := NewRegistry()
	reg.MustRegister(
		staticProvider("ok", "fine"),
		&Definition{ProviderName: "broken", ResolveFn: func(context.Context, Params) (string, error) {
			return "", boom
		}},
	)

	got, err := reg.Resolve(context.Background(), []string{"ok", "broken"}, nil)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"broken"`)
}

func TestRegistry_ParamsReachProvider(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Definition{
		ProviderName: "greeting",
		Spec:         ParamSpec{Required: []string{"name"}},
		ResolveFn: func(_ context.Context, p Params) (string, error) {
			name, _ := p.String("name")
			return "Hello " + name, nil
		},
	})

	got, err := reg.Resolve(context.Background(), []string{"greeting"}, Params{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello Ada"}, got)
}

func TestDefinition_NoResolveFunc(t *testing.T) {
	d := &Definition{ProviderName: "x"}
	_, err := d.Resolve(context.Background(), nil)
	assert.Error(t, err)
}
