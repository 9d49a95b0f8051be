// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/balloon/balloon/internal/dag"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/resolver"
	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/platform"
)

type (
	// ActionableError is a failure the user can act on: what balloon was
	// doing, on which file or mod, and what to try next. Issue links the
	// markdown guide the CLI renders below the message.
	//
	//	return issue.NewErrorContext().
	//		WithOperation("load mods").
	//		WithResource("/mods/extra.zip").
	//		WithSuggestion("Run 'balloon mods validate /mods/extra.zip'").
	//		WithIssue(issue.LibraryLoadFailedId).
	//		Wrap(err).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "load mods" or "initialize mod".
		Operation string
		// Resource is the mod id or loader path involved, if any.
		Resource    string
		Suggestions []string
		Cause       error
		Issue       Id
	}

	// ErrorContext accumulates the parts of an ActionableError.
	ErrorContext struct {
		operation   string
		resource    string
		suggestions []string
		cause       error
		issue       Id
	}
)

// NewErrorContext starts an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Error renders "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	var msg strings.Builder
	msg.WriteString("failed to " + e.Operation)
	if e.Resource != "" {
		msg.WriteString(": " + e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": " + e.Cause.Error())
	}
	return msg.String()
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format adds the suggestions as bullets under Error. Verbose output also
// lists every error of the cause chain, one per line.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())
	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, s := range e.Suggestions {
			msg.WriteString("\n  • " + s)
		}
	}
	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}
	return msg.String()
}

// Guide returns the linked issue, if any.
func (e *ActionableError) Guide() (*Issue, bool) {
	if e.Issue == 0 {
		return nil, false
	}
	i := Get(e.Issue)
	return i, i != nil
}

// HasSuggestions reports whether Format prints any bullet.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// WithOperation sets the operation.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the mod id or path involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithSuggestion appends one suggestion.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.suggestions = append(c.suggestions, sug)
	return c
}

// WithSuggestions appends several suggestions.
func (c *ErrorContext) WithSuggestions(sugs ...string) *ErrorContext {
	c.suggestions = append(c.suggestions, sugs...)
	return c
}

// WithIssue links a guide from the catalog.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.issue = id
	return c
}

// Wrap sets the cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build returns the error, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}
	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Cause:       c.cause,
		Issue:       c.issue,
	}
}

// BuildError is Build typed as error, so that a missing operation yields a
// true nil interface.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}

// ForModError wraps a discovery, resolution or loading failure with the
// guide and suggestions that match its cause. An err that already is an
// ActionableError is returned as is; nil stays nil. Causes balloon knows
// nothing about get no guide.
func ForModError(operation, resource string, err error) *ActionableError {
	if err == nil {
		return nil
	}
	var ae *ActionableError
	if errors.As(err, &ae) {
		return ae
	}

	c := NewErrorContext().WithOperation(operation).WithResource(resource).Wrap(err)
	var (
		cycle       *dag.CycleError
		collision   *resolver.BuiltinCollisionError
		unsatisfied *resolver.UnsatisfiedError
		handshake   *loader.HandshakeError
	)
	switch {
	case errors.Is(err, loader.ErrNoSearchRoots):
		c.WithIssue(NoSearchRootsId).
			WithSuggestion("Create one of the search_roots inside the loader directory")
	case errors.As(err, &cycle):
		c.WithIssue(DependencyCycleId)
		if len(cycle.Mods) > 0 {
			loop := append(slices.Clone(cycle.Mods), cycle.Mods[0])
			c.WithSuggestion("Remove one dependency of the loop " + strings.Join(loop, " -> "))
		}
	case errors.As(err, &collision):
		c.WithIssue(BuiltinCollisionId)
		for _, cand := range collision.Candidates {
			if !cand.IsBuiltin() {
				c.WithSuggestion(fmt.Sprintf("Remove %s or rename its id, it shadows the builtin %s", cand.Path, collision.ID))
			}
		}
	case errors.As(err, &unsatisfied):
		c.WithIssue(DependenciesNotSatisfiedId)
		for _, u := range unsatisfied.Mods {
			for _, d := range u.Missing {
				want := d.ID()
				if d.HasRequirements() {
					want += " " + d.VersionRequirements()
				}
				c.WithSuggestion(fmt.Sprintf("Install %s, required by %s", want, u.Candidate.ID()))
			}
		}
	case errors.As(err, &handshake):
		c.WithIssue(IncompatibleLibraryId)
		if handshake.Received.APIVersion != handshake.Expected.APIVersion {
			c.WithSuggestion(fmt.Sprintf("Rebuild %s against mod API version %d", handshake.Path, modapi.APIVersion))
		} else {
			c.WithSuggestion(fmt.Sprintf("Rebuild %s with the Go toolchain and modapi package of this balloon build", handshake.Path))
		}
	case errors.Is(err, loader.ErrMismatch):
		c.WithIssue(IncompatibleLibraryId).
			WithSuggestion("Make the id and version returned by " + modapi.EntrySymbol + " equal the ones in " + balloonmod.ManifestFileName)
	case errors.Is(err, loader.ErrLibraryMissing),
		errors.Is(err, loader.ErrLibraryNotFound),
		errors.Is(err, loader.ErrSymbolNotFound),
		errors.Is(err, loader.ErrBadEntry):
		c.WithIssue(LibraryLoadFailedId).
			WithSuggestion("Ship bin/<id>" + modapi.LibraryExtension + " exporting " + modapi.EntrySymbol)
	case errors.Is(err, platform.ErrPluginsUnsupported):
		c.WithIssue(LibraryLoadFailedId).
			WithSuggestion("Run balloon on linux, darwin or freebsd, or link the mod into the host as a builtin")
	case errors.Is(err, balloonmod.ErrInvalidManifest):
		c.WithIssue(ManifestParseErrorId)
		if resource != "" {
			c.WithSuggestion("Run 'balloon mods validate " + resource + "' for every error in the manifest")
		}
	case errors.Is(err, fs.ErrPermission), errors.Is(err, vfs.ErrReadOnly):
		c.WithIssue(PermissionDeniedId).
			WithSuggestion("Make the cache, logs and configs folders of the loader directory writable")
	}
	return c.Build()
}
