// SPDX-License-Identifier: MPL-2.0

// Package resolver picks one consistent, dependency-ordered set of mods out
// of everything discovery found.
//
// Candidates are sorted by id and then newest version first, so wherever a
// choice between versions exists the newest wins. A builtin mod that is the
// only candidate for its id is always selected; a builtin that shares its
// id with other candidates excludes the whole id.
package resolver

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/dag"
	"github.com/balloon/balloon/internal/discovery"
)

type (
	// Resolver turns candidates into a load order.
	Resolver struct {
		logger *log.Logger
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	// Result is the outcome of Resolve. Mods is always usable, even when
	// Err is set: it holds exactly the mods whose dependencies were met.
	Result struct {
		Mods        []discovery.Candidate
		Unsatisfied []Unsatisfied
		Collisions  []*BuiltinCollisionError
		// Cycle names the unsatisfied mods that depend on each other in a
		// loop, if any.
		Cycle *dag.CycleError
		Err   error
	}

	// selection is the id → winner map plus the order winners were chosen in.
	selection struct {
		byID  map[string]discovery.Candidate
		order []discovery.Candidate
	}
)

// WithLogger sets the resolver's logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve selects at most one candidate per id and orders the selection so
// that every mod comes after the mods it depends on. Ids present in
// disabled are never selected.
func (r *Resolver) Resolve(candidates []discovery.Candidate, disabled map[string][]discovery.Candidate) Result {
	start := time.Now()
	res := r.findCompatibleSet(candidates, disabled)
	r.logger.Debug("mod resolution time", "elapsed", time.Since(start))
	return res
}

func (r *Resolver) findCompatibleSet(candidates []discovery.Candidate, disabled map[string][]discovery.Candidate) Result {
	var res Result

	pool := make([]discovery.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsValid() {
			continue
		}
		if _, off := disabled[c.ID()]; off {
			continue
		}
		pool = append(pool, c)
	}
	pool = dedupe(pool)
	discovery.SortCandidates(pool)
	groups := discovery.GroupByID(pool)

	var preselected []discovery.Candidate
	for _, id := range slices.Sorted(maps.Keys(groups)) {
		group := groups[id]
		i := slices.IndexFunc(group, discovery.Candidate.IsBuiltin)
		if i < 0 {
			continue
		}
		if len(group) > 1 {
			collision := &BuiltinCollisionError{ID: id, Candidates: slices.Clone(group)}
			r.logger.Error("mods share id with builtin mod", "id", id, "builtin", group[i].Path, "candidates", len(group))
			res.Collisions = append(res.Collisions, collision)
			pool = withoutID(pool, id)
			continue
		}
		preselected = append(preselected, group[i])
	}

	sel := &selection{byID: make(map[string]discovery.Candidate)}
	for _, c := range preselected {
		if err := sel.add(c); err != nil {
			r.logger.Error("found duplicate mod", "id", c.ID(), "err", err)
			continue
		}
		pool = withoutID(pool, c.ID())
	}

	solver := NewSolver(r.logger)
	if !solver.Solve(pool, sel) {
		res.Unsatisfied = solver.Unsatisfied()
		r.logger.Error("failed to solve mods")
		r.logger.Error(solver.UnsatisfiedError().Error())
		res.Cycle = findCycle(res.Unsatisfied)
	}

	res.Mods = sel.order
	errs := make([]error, 0, len(res.Collisions)+1)
	for _, c := range res.Collisions {
		errs = append(errs, c)
	}
	errs = append(errs, solver.UnsatisfiedError())
	if res.Cycle != nil {
		errs = append(errs, res.Cycle)
	}
	res.Err = errors.Join(errs...)
	return res
}

// findCycle looks for a dependency loop among the unsatisfied mods.
func findCycle(unsatisfied []Unsatisfied) *dag.CycleError {
	ids := make(map[string]struct{}, len(unsatisfied))
	for _, u := range unsatisfied {
		ids[u.Candidate.ID()] = struct{}{}
	}
	g := dag.New()
	for _, u := range unsatisfied {
		g.AddMod(u.Candidate.ID())
		for _, d := range u.Candidate.DependsOn() {
			if _, ok := ids[d.ID()]; ok {
				g.AddDependency(u.Candidate.ID(), d.ID())
			}
		}
	}
	var cycle *dag.CycleError
	if _, err := g.LoadOrder(); errors.As(err, &cycle) {
		return cycle
	}
	return nil
}

// add records c as the winner for its id.
func (s *selection) add(c discovery.Candidate) error {
	if prev, ok := s.byID[c.ID()]; ok {
		return fmt.Errorf("%w %s: %s already selected", ErrDuplicateMod, c, prev)
	}
	s.byID[c.ID()] = c
	s.order = append(s.order, c)
	return nil
}

// reset replaces the selection with order.
func (s *selection) reset(order []discovery.Candidate) {
	s.byID = make(map[string]discovery.Candidate, len(order))
	s.order = slices.Clone(order)
	for _, c := range order {
		s.byID[c.ID()] = c
	}
}

func dedupe(cs []discovery.Candidate) []discovery.Candidate {
	return discovery.NewCandidateSet(cs...).Items()
}

func withoutID(cs []discovery.Candidate, id string) []discovery.Candidate {
	return slices.DeleteFunc(cs, func(c discovery.Candidate) bool { return c.ID() == id })
}
