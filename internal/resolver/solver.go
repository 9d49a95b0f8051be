// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"maps"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/discovery"
	"github.com/balloon/balloon/pkg/balloonmod"
)

type (
	// Solver orders candidates along their DEPEND edges. Only DEPEND entries
	// are enforced; the other kinds are informational.
	Solver struct {
		logger      *log.Logger
		sorted      []discovery.Candidate
		unsatisfied []Unsatisfied
	}

	pending struct {
		cand    discovery.Candidate
		missing []*balloonmod.Dependency
	}
)

// NewSolver returns a solver logging to logger.
func NewSolver(logger *log.Logger) *Solver {
	if logger == nil {
		logger = log.Default()
	}
	return &Solver{logger: logger}
}

// Solve runs the two passes over sel. The first orders the preselected
// mods among themselves; if that leaves any of them unsatisfied, sel keeps
// only the ordered ones and Solve returns false. The second pins that
// order, picks the newest satisfiable version of every other id out of
// pool and appends the picks in dependency order. Solve reports whether
// the last pass was consistent.
func (s *Solver) Solve(pool []discovery.Candidate, sel *selection) bool {
	s.run(nil, sel.order)
	sel.reset(s.sorted)
	if !s.IsConsistent() {
		return false
	}

	pinned := sel.order
	s.run(pinned, s.newest(pinned, pool))
	for _, c := range s.sorted[len(pinned):] {
		if err := sel.add(c); err != nil {
			s.logger.Error("found duplicate mod", "id", c.ID(), "err", err)
		}
	}

	// Report the ids that ended up with no version at all.
	s.unsatisfied = s.unsatisfied[:0]
	for _, c := range pool {
		if _, chosen := sel.byID[c.ID()]; chosen {
			continue
		}
		if missing := unmet(c.DependsOn(), sel.order); len(missing) > 0 {
			s.unsatisfied = append(s.unsatisfied, Unsatisfied{Candidate: c, Missing: missing})
		}
	}
	return s.IsConsistent()
}

// newest returns one candidate per id out of pool: the newest version
// whose dependencies can be met by pinned and the other picks. A pick can
// lose its dependencies when a version it relied on is not picked. Lost
// picks that have another version in pool are removed first, so an older
// version gets its turn; when no lost pick has one, all of them go. The
// choice is made again until it is stable.
func (s *Solver) newest(pinned, pool []discovery.Candidate) []discovery.Candidate {
	pool = slices.Clone(pool)
	for {
		picks := newestPerID(satisfiable(pinned, pool))
		kept := satisfiable(pinned, picks)
		if len(kept) == len(picks) {
			return picks
		}

		versions := make(map[string]int, len(pool))
		for _, c := range pool {
			versions[c.ID()]++
		}
		var lost, shadowing []discovery.Candidate
		for _, c := range picks {
			if slices.ContainsFunc(kept, c.Equal) {
				continue
			}
			lost = append(lost, c)
			if versions[c.ID()] > 1 {
				shadowing = append(shadowing, c)
			}
		}
		if len(shadowing) > 0 {
			lost = shadowing
		}
		for _, c := range lost {
			s.logger.Debug("dropping version with unmet dependencies", "mod", c.String())
		}
		pool = slices.DeleteFunc(pool, func(c discovery.Candidate) bool {
			return slices.ContainsFunc(lost, c.Equal)
		})
	}
}

// satisfiable returns the members of cands whose DEPEND entries can all be
// met, possibly through each other, by pinned and the satisfiable members.
// Several versions of one id may be returned.
func satisfiable(pinned, cands []discovery.Candidate) []discovery.Candidate {
	have := slices.Clone(pinned)
	done := make([]bool, len(cands))
	for changed := true; changed; {
		changed = false
		for i, c := range cands {
			if done[i] || len(unmet(c.DependsOn(), have)) > 0 {
				continue
			}
			done[i] = true
			have = append(have, c)
			changed = true
		}
	}

	out := make([]discovery.Candidate, 0, len(cands))
	for i, c := range cands {
		if done[i] {
			out = append(out, c)
		}
	}
	return out
}

// newestPerID keeps the newest candidate of every id, sorted with
// discovery.Compare.
func newestPerID(cs []discovery.Candidate) []discovery.Candidate {
	best := make(map[string]discovery.Candidate, len(cs))
	for _, c := range cs {
		if prev, ok := best[c.ID()]; !ok || discovery.Compare(c, prev) < 0 {
			best[c.ID()] = c
		}
	}
	out := slices.Collect(maps.Values(best))
	discovery.SortCandidates(out)
	return out
}

// unmet returns the entries of deps that no member of have fulfills.
func unmet(deps []*balloonmod.Dependency, have []discovery.Candidate) []*balloonmod.Dependency {
	var out []*balloonmod.Dependency
	for _, d := range deps {
		if !slices.ContainsFunc(have, func(h discovery.Candidate) bool {
			return h.ID() == d.ID() && d.MatchesVersion(h.Version())
		}) {
			out = append(out, d)
		}
	}
	return out
}

// run is one Kahn pass. Pinned mods are emitted first, then pool mods
// become ready in FIFO order as their dependencies are met. Popping a mod
// whose id is already taken by another candidate rejects it and it
// satisfies nobody.
func (s *Solver) run(pinned, pool []discovery.Candidate) {
	s.sorted = nil
	s.unsatisfied = nil

	taken := make(map[string]string, len(pinned)+len(pool))
	ready := make([]discovery.Candidate, 0, len(pinned)+len(pool))
	ready = append(ready, pinned...)

	var waiting []*pending
	for _, c := range pool {
		deps := c.DependsOn()
		if len(deps) == 0 {
			ready = append(ready, c)
			continue
		}
		waiting = append(waiting, &pending{cand: c, missing: deps})
	}

	for len(ready) > 0 {
		c := ready[0]
		ready = ready[1:]

		if key, ok := taken[c.ID()]; ok {
			if key != c.Key() {
				s.logger.Debug("rejecting duplicate mod", "mod", c.String(), "selected", key)
			}
			continue
		}
		taken[c.ID()] = c.Key()
		s.sorted = append(s.sorted, c)

		still := waiting[:0]
		for _, w := range waiting {
			w.missing = satisfy(w.missing, c)
			if len(w.missing) == 0 {
				ready = append(ready, w.cand)
				continue
			}
			still = append(still, w)
		}
		waiting = still
	}

	for _, w := range waiting {
		s.unsatisfied = append(s.unsatisfied, Unsatisfied{Candidate: w.cand, Missing: w.missing})
	}
}

// satisfy drops every entry of deps that c fulfills.
func satisfy(deps []*balloonmod.Dependency, c discovery.Candidate) []*balloonmod.Dependency {
	out := deps[:0]
	for _, d := range deps {
		if d.ID() == c.ID() && d.MatchesVersion(c.Version()) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// IsConsistent reports whether the last pass left nothing unsatisfied.
func (s *Solver) IsConsistent() bool { return len(s.unsatisfied) == 0 }

// Unsatisfied returns the candidates the last pass could not order.
func (s *Solver) Unsatisfied() []Unsatisfied { return s.unsatisfied }

// UnsatisfiedError returns the report for the last pass, or nil.
func (s *Solver) UnsatisfiedError() error {
	if s.IsConsistent() {
		return nil
	}
	return &UnsatisfiedError{Mods: s.unsatisfied}
}
