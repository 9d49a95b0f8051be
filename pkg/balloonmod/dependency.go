// SPDX-License-Identifier: MPL-2.0

package balloonmod

import (
	"errors"
	"fmt"

	"github.com/balloon/balloon/pkg/semver"
)

const (
	// KindDepend is a hard requirement that participates in load ordering.
	KindDepend DependencyKind = "depend"
	// KindRecommend is an informational soft dependency.
	KindRecommend DependencyKind = "recommend"
	// KindSuggest is an informational soft dependency.
	KindSuggest DependencyKind = "suggest"
	// KindConflict marks a mod that should not be loaded alongside this one.
	KindConflict DependencyKind = "conflict"
	// KindBreak marks a mod version range that this mod breaks.
	KindBreak DependencyKind = "break"
)

// ErrInvalidDependencyKind is returned when a DependencyKind value is not recognized.
var ErrInvalidDependencyKind = errors.New("invalid dependency kind")

type (
	// DependencyKind classifies a dependency entry.
	DependencyKind string

	// InvalidDependencyKindError is returned when a DependencyKind value is not
	// recognized. It wraps ErrInvalidDependencyKind for errors.Is() compatibility.
	InvalidDependencyKindError struct {
		Value DependencyKind
	}

	// Dependency is one named requirement on another mod. Every version
	// requirement added to it is OR-ed into a single range.
	Dependency struct {
		id   string
		kind DependencyKind
		rng  semver.Range
	}
)

// manifestKeys maps manifest object names to the kind they declare, in the
// order they are read.
var manifestKeys = []struct {
	key  string
	kind DependencyKind
}{
	{"depends", KindDepend},
	{"breaks", KindBreak},
	{"conflicts", KindConflict},
	{"recommends", KindRecommend},
	{"suggests", KindSuggest},
}

// Error implements the error interface.
func (e *InvalidDependencyKindError) Error() string {
	return fmt.Sprintf("invalid dependency kind %q (valid: depend, recommend, suggest, conflict, break)", e.Value)
}

// Unwrap returns ErrInvalidDependencyKind for errors.Is() compatibility.
func (e *InvalidDependencyKindError) Unwrap() error { return ErrInvalidDependencyKind }

// IsValid returns whether the kind is one of the defined kinds.
func (k DependencyKind) IsValid() (bool, []error) {
	switch k {
	case KindDepend, KindRecommend, KindSuggest, KindConflict, KindBreak:
		return true, nil
	default:
		return false, []error{&InvalidDependencyKindError{Value: k}}
	}
}

// String returns the kind name.
func (k DependencyKind) String() string { return string(k) }

// NewDependency creates a dependency with no version requirements yet.
func NewDependency(id string, kind DependencyKind) *Dependency {
	return &Dependency{id: id, kind: kind}
}

// ID returns the target mod id.
func (d *Dependency) ID() string { return d.id }

// Kind returns the dependency kind.
func (d *Dependency) Kind() DependencyKind { return d.kind }

// AddVersionRequirement ORs expr into the accumulated range. The first
// successful call establishes the range. A rejected expression leaves the
// range as it was.
func (d *Dependency) AddVersionRequirement(expr string) error {
	next, err := d.rng.Or(expr)
	if err != nil {
		return fmt.Errorf("dependency %s: %w", d.id, err)
	}
	d.rng = next
	return nil
}

// VersionRequirements returns the canonical union of every accepted
// requirement, or "" when none was accepted.
func (d *Dependency) VersionRequirements() string { return d.rng.String() }

// HasRequirements reports whether at least one requirement was accepted.
func (d *Dependency) HasRequirements() bool { return !d.rng.IsZero() }

// Matches reports whether version satisfies the accumulated range. Empty
// or unparsable versions never match, nor does a dependency without
// requirements.
func (d *Dependency) Matches(version string) bool {
	if version == "" {
		return false
	}
	v, err := semver.Parse(version)
	if err != nil {
		return false
	}
	return d.MatchesVersion(v)
}

// MatchesVersion is Matches for an already parsed version.
func (d *Dependency) MatchesVersion(v *semver.Version) bool {
	return d.rng.Contains(v)
}

// Equal compares id, kind and the canonical requirement string.
func (d *Dependency) Equal(other *Dependency) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.id == other.id && d.kind == other.kind && d.VersionRequirements() == other.VersionRequirements()
}

// String renders "id kind range".
func (d *Dependency) String() string {
	return fmt.Sprintf("%s %s %s", d.id, d.kind, d.VersionRequirements())
}
