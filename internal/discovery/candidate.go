// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"cmp"
	"slices"

	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/semver"
)

type (
	// Candidate pairs a discovered mod path with its parsed manifest. The
	// metadata is shared read-only between copies. The zero Candidate is
	// invalid.
	Candidate struct {
		// Path is the directory or archive the mod was found at.
		Path     string
		Metadata *balloonmod.Metadata
	}

	// CandidateSet holds candidates unique by Key, in insertion order.
	CandidateSet struct {
		index map[string]int
		items []Candidate
	}
)

// NewCandidate pairs path with meta.
func NewCandidate(path string, meta *balloonmod.Metadata) Candidate {
	return Candidate{Path: path, Metadata: meta}
}

// IsValid reports whether the candidate carries metadata.
func (c Candidate) IsValid() bool { return c.Metadata != nil }

// ID returns the mod id, or "" for an invalid candidate.
func (c Candidate) ID() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.ID()
}

// Version returns the mod version, or nil for an invalid candidate.
func (c Candidate) Version() *semver.Version {
	if c.Metadata == nil {
		return nil
	}
	return c.Metadata.Version()
}

// VersionString returns the version as written in the manifest.
func (c Candidate) VersionString() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.VersionString()
}

// IsBuiltin reports whether the mod is tagged "builtin".
func (c Candidate) IsBuiltin() bool {
	return c.Metadata != nil && c.Metadata.IsBuiltin()
}

// DependsOn returns the DEPEND entries of the manifest.
func (c Candidate) DependsOn() []*balloonmod.Dependency {
	if c.Metadata == nil {
		return nil
	}
	return c.Metadata.DependsOn()
}

// Key identifies the candidate by id and canonical version.
func (c Candidate) Key() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.ID() + "@" + c.Metadata.Version().String()
}

// Equal reports whether both candidates are valid with the same id and
// version. Two invalid candidates are equal to each other.
func (c Candidate) Equal(o Candidate) bool {
	if !c.IsValid() || !o.IsValid() {
		return c.IsValid() == o.IsValid()
	}
	return c.ID() == o.ID() && c.Version().Equal(o.Version())
}

// String renders "id@version", or "<invalid>".
func (c Candidate) String() string {
	if c.Metadata == nil {
		return "<invalid>"
	}
	return c.Metadata.String()
}

// Compare orders candidates by id ascending, then version descending so
// the newest of an id comes first. Invalid candidates sort first; path
// breaks remaining ties.
func Compare(a, b Candidate) int {
	switch {
	case !a.IsValid() && !b.IsValid():
		return cmp.Compare(a.Path, b.Path)
	case !a.IsValid():
		return -1
	case !b.IsValid():
		return 1
	}
	if c := cmp.Compare(a.ID(), b.ID()); c != 0 {
		return c
	}
	if c := b.Version().Compare(a.Version()); c != 0 {
		return c
	}
	return cmp.Compare(a.Path, b.Path)
}

// SortCandidates sorts cs in place with Compare.
func SortCandidates(cs []Candidate) {
	slices.SortStableFunc(cs, Compare)
}

// GroupByID buckets cs by id. Each bucket is sorted with Compare.
func GroupByID(cs []Candidate) map[string][]Candidate {
	groups := make(map[string][]Candidate)
	for _, c := range cs {
		if !c.IsValid() {
			continue
		}
		groups[c.ID()] = append(groups[c.ID()], c)
	}
	for _, g := range groups {
		SortCandidates(g)
	}
	return groups
}

// NewCandidateSet returns a set holding cs.
func NewCandidateSet(cs ...Candidate) *CandidateSet {
	s := &CandidateSet{index: make(map[string]int)}
	for _, c := range cs {
		s.Add(c)
	}
	return s
}

// Add inserts c unless an equal candidate is present or c is invalid. It
// reports whether c was inserted.
func (s *CandidateSet) Add(c Candidate) bool {
	if !c.IsValid() {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	key := c.Key()
	if _, dup := s.index[key]; dup {
		return false
	}
	s.index[key] = len(s.items)
	s.items = append(s.items, c)
	return true
}

// Contains reports whether an equal candidate is present.
func (s *CandidateSet) Contains(c Candidate) bool {
	if s == nil || !c.IsValid() {
		return false
	}
	_, ok := s.index[c.Key()]
	return ok
}

// Get returns the candidate stored under key.
func (s *CandidateSet) Get(key string) (Candidate, bool) {
	if s == nil {
		return Candidate{}, false
	}
	i, ok := s.index[key]
	if !ok {
		return Candidate{}, false
	}
	return s.items[i], true
}

// Len returns the number of candidates.
func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the candidates in insertion order.
func (s *CandidateSet) Items() []Candidate {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

// Sorted returns the candidates ordered with Compare.
func (s *CandidateSet) Sorted() []Candidate {
	out := s.Items()
	SortCandidates(out)
	return out
}
