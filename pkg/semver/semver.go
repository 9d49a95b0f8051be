// SPDX-License-Identifier: MPL-2.0

// Package semver wraps github.com/Masterminds/semver/v3 with the strict
// parsing and OR-accumulating range semantics used by mod manifests.
package semver

import (
	"errors"
	"fmt"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidVersion is returned when a version string is not strict semver.
	ErrInvalidVersion = errors.New("invalid semantic version")
	// ErrInvalidRange is returned when a range expression cannot be parsed.
	ErrInvalidRange = errors.New("invalid version range")
)

type (
	// Version is an immutable semantic version. The zero value is not usable;
	// obtain versions through Parse or MustParse.
	Version struct {
		v *mmsemver.Version
	}

	// Range is a union of comparator groups such as ">=1.0.0 <2.0.0 || ^3.1".
	// The zero value matches nothing.
	Range struct {
		c *mmsemver.Constraints
	}

	// ParseError describes a rejected version or range string.
	ParseError struct {
		Input string
		Kind  error
		Cause error
	}
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %q: %v", e.Kind, e.Input, e.Cause)
	}
	return fmt.Sprintf("%s %q", e.Kind, e.Input)
}

// Unwrap returns the sentinel kind so errors.Is works against
// ErrInvalidVersion and ErrInvalidRange.
func (e *ParseError) Unwrap() error { return e.Kind }

// Parse reads a full MAJOR.MINOR.PATCH version with optional prerelease
// and build metadata. A leading "v" is tolerated.
func Parse(text string) (*Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "v")
	if trimmed == "" {
		return nil, &ParseError{Input: text, Kind: ErrInvalidVersion}
	}
	v, err := mmsemver.StrictNewVersion(trimmed)
	if err != nil {
		return nil, &ParseError{Input: text, Kind: ErrInvalidVersion, Cause: err}
	}
	return &Version{v: v}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(text string) *Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// Set replaces the receiver with the parsed text. On failure the receiver
// keeps its previous value.
func (v *Version) Set(text string) error {
	parsed, err := Parse(text)
	if err != nil {
		return err
	}
	v.v = parsed.v
	return nil
}

// Major returns the major component.
func (v *Version) Major() uint64 { return v.v.Major() }

// Minor returns the minor component.
func (v *Version) Minor() uint64 { return v.v.Minor() }

// Patch returns the patch component.
func (v *Version) Patch() uint64 { return v.v.Patch() }

// Prerelease returns the prerelease identifier, if any.
func (v *Version) Prerelease() string { return v.v.Prerelease() }

// Metadata returns the build metadata, if any.
func (v *Version) Metadata() string { return v.v.Metadata() }

// Compare returns -1, 0 or 1 by semver precedence. Build metadata does not
// participate.
func (v *Version) Compare(other *Version) int {
	return v.v.Compare(other.v)
}

// Equal reports whether both versions have the same precedence.
func (v *Version) Equal(other *Version) bool {
	return v.Compare(other) == 0
}

// Match reports whether the version satisfies a single comparator
// expression such as ">=1.2" or "1.4.x". Malformed expressions never match.
func (v *Version) Match(comparator string) bool {
	if strings.Contains(comparator, "||") {
		return false
	}
	c, err := mmsemver.NewConstraint(comparator)
	if err != nil {
		return false
	}
	return c.Check(v.v)
}

// InRange reports whether the version satisfies a full range expression.
// Malformed expressions never match.
func (v *Version) InRange(expr string) bool {
	r, err := ParseRange(expr)
	if err != nil {
		return false
	}
	return r.Contains(v)
}

// String returns the canonical form, which Parse reads back to an equal
// version.
func (v *Version) String() string {
	if v == nil || v.v == nil {
		return ""
	}
	return v.v.String()
}

// ParseRange parses a range expression. Empty expressions are rejected so
// that a requirement always says something.
func ParseRange(expr string) (Range, error) {
	if strings.TrimSpace(expr) == "" {
		return Range{}, &ParseError{Input: expr, Kind: ErrInvalidRange}
	}
	c, err := mmsemver.NewConstraint(expr)
	if err != nil {
		return Range{}, &ParseError{Input: expr, Kind: ErrInvalidRange, Cause: err}
	}
	return Range{c: c}, nil
}

// IsZero reports whether no expression has been added yet.
func (r Range) IsZero() bool { return r.c == nil }

// Or returns the union of r and expr. The receiver is not modified, so a
// failed parse leaves the caller's range intact.
func (r Range) Or(expr string) (Range, error) {
	next, err := ParseRange(expr)
	if err != nil {
		return r, err
	}
	if r.IsZero() {
		return next, nil
	}
	merged, err := mmsemver.NewConstraint(r.c.String() + " || " + next.c.String())
	if err != nil {
		return r, &ParseError{Input: expr, Kind: ErrInvalidRange, Cause: err}
	}
	return Range{c: merged}, nil
}

// Contains reports whether v satisfies any group of the range.
func (r Range) Contains(v *Version) bool {
	if r.IsZero() || v == nil || v.v == nil {
		return false
	}
	return r.c.Check(v.v)
}

// String returns the canonical union, groups joined by " || ".
func (r Range) String() string {
	if r.IsZero() {
		return ""
	}
	return r.c.String()
}
