// SPDX-License-Identifier: MPL-2.0

// Package dag orders mod ids by their dependencies and finds the mods that
// depend on each other in a loop.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycle is the sentinel error wrapped by CycleError.
var ErrCycle = errors.New("dependency cycle")

type (
	// CycleError lists the mods that take part in at least one dependency
	// loop, in the order they were added. Mods that only depend on a loop
	// are not listed.
	CycleError struct {
		Mods []string
	}

	// Graph is a dependency graph of mod ids. An edge from A to B means A
	// must be loaded before B.
	Graph struct {
		// out maps a mod to the mods that depend on it.
		out map[string][]string
		// in maps a mod to the mods it depends on.
		in    map[string][]string
		nodes []string
		index map[string]int
	}
)

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	if len(e.Mods) == 0 {
		return ErrCycle.Error()
	}
	loop := append(slices.Clone(e.Mods), e.Mods[0])
	return fmt.Sprintf("dependency cycle between mods: %s", strings.Join(loop, " -> "))
}

// Unwrap returns ErrCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		out:   make(map[string][]string),
		in:    make(map[string][]string),
		index: make(map[string]int),
	}
}

// AddMod adds id to the graph. Adding it again is a no-op.
func (g *Graph) AddMod(id string) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, id)
}

// AddDependency records that dependent needs dependency loaded first. Both
// mods are added if missing; duplicate edges are ignored.
func (g *Graph) AddDependency(dependent, dependency string) {
	g.AddMod(dependent)
	g.AddMod(dependency)
	if slices.Contains(g.out[dependency], dependent) {
		return
	}
	g.out[dependency] = append(g.out[dependency], dependent)
	g.in[dependent] = append(g.in[dependent], dependency)
}

// Len returns the number of mods in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// LoadOrder returns every mod after the mods it depends on, using Kahn's
// algorithm. Mods at the same depth keep their insertion order. A loop
// yields a CycleError naming only the mods inside loops.
func (g *Graph) LoadOrder() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	pending := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		pending[id] = len(g.in[id])
	}
	queue := make([]string, 0, len(g.nodes))
	for _, id := range g.nodes {
		if pending[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range g.out[id] {
			pending[next]--
			if pending[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) == len(g.nodes) {
		return order, nil
	}

	stuck := make(map[string]bool)
	for id, n := range pending {
		if n > 0 {
			stuck[id] = true
		}
	}
	return nil, &CycleError{Mods: g.loopMembers(stuck)}
}

// loopMembers trims from stuck every mod that no other stuck mod depends
// on. What remains lies on a loop.
func (g *Graph) loopMembers(stuck map[string]bool) []string {
	for changed := true; changed; {
		changed = false
		for id := range stuck {
			if !slices.ContainsFunc(g.out[id], func(n string) bool { return stuck[n] }) {
				delete(stuck, id)
				changed = true
			}
		}
	}
	mods := make([]string, 0, len(stuck))
	for id := range stuck {
		mods = append(mods, id)
	}
	slices.SortFunc(mods, func(a, b string) int { return g.index[a] - g.index[b] })
	return mods
}
