// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

type (
	// Explorer runs finders and scans what they report.
	Explorer struct {
		scanner  *Scanner
		finders  []Finder
		disabled map[string]struct{}
		logger   *log.Logger
	}

	// ExplorerOption configures an Explorer.
	ExplorerOption func(*Explorer)

	// Result is the outcome of one exploration.
	Result struct {
		// Candidates holds every successfully scanned, enabled candidate.
		Candidates *CandidateSet
		// Disabled maps the id of each disabled mod to its candidates.
		Disabled map[string][]Candidate
		// Diagnostics lists the paths that were skipped and why.
		Diagnostics []Diagnostic
	}
)

// WithDisabledMods excludes the given ids from the result.
func WithDisabledMods(ids ...string) ExplorerOption {
	return func(e *Explorer) {
		for _, id := range ids {
			e.disabled[id] = struct{}{}
		}
	}
}

// WithExplorerLogger sets the explorer's logger.
func WithExplorerLogger(l *log.Logger) ExplorerOption {
	return func(e *Explorer) { e.logger = l }
}

// NewExplorer returns an explorer scanning with scanner.
func NewExplorer(scanner *Scanner, opts ...ExplorerOption) *Explorer {
	e := &Explorer{scanner: scanner, disabled: make(map[string]struct{}), logger: log.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddFinder registers f.
func (e *Explorer) AddFinder(f Finder) {
	e.finders = append(e.finders, f)
}

// Explore runs every finder, scans each distinct path once and collects
// the candidates. Failures are skipped and reported as diagnostics.
func (e *Explorer) Explore() Result {
	start := time.Now()
	res := Result{Candidates: NewCandidateSet(), Disabled: make(map[string][]Candidate)}

	seen := make(map[string]struct{})
	var paths []string
	for _, f := range e.finders {
		err := f.FindCandidates(func(p string) {
			if _, dup := seen[p]; dup {
				return
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		})
		if err != nil {
			e.logger.Warn("mod finder failed", "err", err)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeFinderFailed,
				Message:  fmt.Sprintf("finder failed: %v", err),
				Cause:    err,
			})
		}
	}

	for _, p := range paths {
		c, err := e.scanner.ScanCandidate(p)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Severity: SeverityError,
				Code:     CodeScanFailed,
				Message:  "mod skipped: " + err.Error(),
				Path:     p,
				Cause:    err,
			})
			continue
		}
		if _, off := e.disabled[c.ID()]; off {
			res.Disabled[c.ID()] = append(res.Disabled[c.ID()], c)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeModDisabled,
				Message:  fmt.Sprintf("mod %s is disabled", c),
				Path:     p,
			})
			continue
		}
		res.Candidates.Add(c)
	}

	e.logger.Debug("mod explore time", "elapsed", time.Since(start), "paths", len(paths), "candidates", res.Candidates.Len())
	return res
}
