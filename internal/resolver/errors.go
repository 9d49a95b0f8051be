// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/balloon/balloon/internal/discovery"
	"github.com/balloon/balloon/pkg/balloonmod"
)

var (
	// ErrDuplicateMod is returned when a second candidate is selected for an
	// id that already has one.
	ErrDuplicateMod = errors.New("duplicate mod")
	// ErrBuiltinCollision is wrapped by BuiltinCollisionError.
	ErrBuiltinCollision = errors.New("mods share id with builtin mod")
	// ErrUnsatisfied is wrapped by UnsatisfiedError.
	ErrUnsatisfied = errors.New("unsatisfied mod dependencies")
)

type (
	// Unsatisfied is a candidate left out because some of its DEPEND
	// entries matched no selected mod.
	Unsatisfied struct {
		Candidate discovery.Candidate
		Missing   []*balloonmod.Dependency
	}

	// UnsatisfiedError is the consolidated report of every Unsatisfied
	// candidate of one resolution.
	UnsatisfiedError struct {
		Mods []Unsatisfied
	}

	// BuiltinCollisionError reports a builtin mod whose id is claimed by
	// other candidates too. Every candidate of that id is excluded.
	BuiltinCollisionError struct {
		ID         string
		Candidates []discovery.Candidate
	}
)

// MissingIDs returns the ids of the unmet dependencies.
func (u Unsatisfied) MissingIDs() []string {
	ids := make([]string, 0, len(u.Missing))
	for _, d := range u.Missing {
		ids = append(ids, d.ID())
	}
	return ids
}

// Error renders the human-readable report.
func (e *UnsatisfiedError) Error() string {
	var sb strings.Builder
	sb.WriteString("Some mods have unsatisfied dependencies:\n")
	seen := make(map[string]struct{})
	for _, u := range e.Mods {
		line := fmt.Sprintf(" - %s is missing: %s\n", u.Candidate.ID(), strings.Join(u.MissingIDs(), " "))
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		sb.WriteString(line)
	}
	sb.WriteString("\nInstall and enable the required mods, or disable the mods causing errors.\n")
	sb.WriteString("Note: this may be caused by a dependency cycle, in which case try updating the mods.")
	return sb.String()
}

// Unwrap returns ErrUnsatisfied.
func (e *UnsatisfiedError) Unwrap() error { return ErrUnsatisfied }

// Error implements the error interface.
func (e *BuiltinCollisionError) Error() string {
	keys := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		keys = append(keys, c.String()+" ("+c.Path+")")
	}
	return fmt.Sprintf("mods share id with builtin mod %s: %s", e.ID, strings.Join(keys, ", "))
}

// Unwrap returns ErrBuiltinCollision.
func (e *BuiltinCollisionError) Unwrap() error { return ErrBuiltinCollision }
