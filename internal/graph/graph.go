// Package graph orders declared agents so that every sub-agent is built
// before the agents that reference it.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is returned when sub-agent references loop back on themselves
	ErrCycle = errors.New("sub-agent cycle")

	// ErrUnknownAgent is returned for references to undeclared agents
	ErrUnknownAgent = errors.New("unknown agent")
)

// CycleError names the agents on a reference cycle
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// Graph records agents in declaration order with the agents they reference
type Graph struct {
	names []string
	refs  map[string][]string
}

// New returns an empty graph
func New() *Graph {
	return &Graph{refs: make(map[string][]string)}
}

// Add declares an agent. Repeated references are kept once.
func (g *Graph) Add(name string, refs ...string) error {
	if _, ok := g.refs[name]; ok {
		return fmt.Errorf("agent %q declared twice", name)
	}
	uniq := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			uniq = append(uniq, r)
		}
	}
	g.names = append(g.names, name)
	g.refs[name] = uniq
	return nil
}

// Refs returns a copy of the agents name references
func (g *Graph) Refs(name string) []string {
	refs, ok := g.refs[name]
	if !ok {
		return nil
	}
	return append([]string(nil), refs...)
}

// Len returns the number of declared agents
func (g *Graph) Len() int {
	return len(g.names)
}

// Order returns every agent after the agents it references. Ties keep
// declaration order, so the result is deterministic.
func (g *Graph) Order() ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.names))
	order := make([]string, 0, len(g.names))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return &CycleError{Path: cycle}
		}

		state[name] = visiting
		path = append(path, name)
		for _, ref := range g.refs[name] {
			if _, ok := g.refs[ref]; !ok {
				return fmt.Errorf("%w: %q references %q", ErrUnknownAgent, name, ref)
			}
			if err := visit(ref); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range g.names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
