// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/balloon/balloon/internal/config"
	"github.com/balloon/balloon/internal/discovery"
	"github.com/balloon/balloon/internal/issue"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/logging"
	"github.com/balloon/balloon/internal/resolver"
	"github.com/balloon/balloon/pkg/balloonmod"
)

const (
	statusSelected    = "selected"
	statusDisabled    = "disabled"
	statusSuperseded  = "superseded"
	statusCollision   = "builtin collision"
	statusCycle       = "dependency cycle"
	statusUnsatisfied = "missing "
)

// modPlan is a dry run of what a session would load: discovery plus
// resolution, without opening any library.
type modPlan struct {
	found  discovery.Result
	result resolver.Result
}

// cliLogger returns the console logger for a command. Outside verbose mode
// only warnings and errors are shown.
func (a *App) cliLogger(cfg *config.Config, verbose bool) *log.Logger {
	level, err := logging.ParseLevel(cfg.LogLevel.String())
	if err != nil || (!verbose && level < log.WarnLevel) {
		level = log.WarnLevel
	}
	return logging.NewStore(a.stderr, level).Default().Std()
}

// planMods explores the configured search roots and resolves a load order.
func (a *App) planMods(cfg *config.Config, logger *log.Logger) (*modPlan, error) {
	fs := a.fileSystem(cfg)

	var roots []string
	for _, r := range cfg.Roots() {
		if fs.IsDir(r) {
			roots = append(roots, r)
		}
	}
	if len(roots) == 0 {
		return nil, issue.NewErrorContext().
			WithOperation("discover mods").
			WithResource(strings.Join(cfg.Roots(), ", ")).
			WithSuggestion("Create one of the search roots inside " + loaderDir(cfg)).
			WithSuggestion("Point loader_dir at the game directory with 'balloon config show'").
			WithIssue(issue.NoSearchRootsId).
			Wrap(loader.ErrNoSearchRoots).
			BuildError()
	}

	explorer := discovery.NewExplorer(
		discovery.NewScanner(fs, balloonmod.NewParser(balloonmod.WithLogger(logger)), logger),
		discovery.WithDisabledMods(cfg.DisabledMods...),
		discovery.WithExplorerLogger(logger),
	)
	for _, root := range roots {
		explorer.AddFinder(discovery.NewDirectoryFinder(fs, root, discovery.WithFinderLogger(logger)))
	}
	found := explorer.Explore()

	return &modPlan{
		found:  found,
		result: resolver.New(resolver.WithLogger(logger)).Resolve(found.Candidates.Items(), found.Disabled),
	}, nil
}

// candidates returns every scanned candidate, disabled ones included,
// ordered by id and newest version first.
func (p *modPlan) candidates() []discovery.Candidate {
	all := p.found.Candidates.Items()
	for _, cs := range p.found.Disabled {
		all = append(all, cs...)
	}
	discovery.SortCandidates(all)
	return all
}

// order returns the 1-based load position of c, or 0.
func (p *modPlan) order(c discovery.Candidate) int {
	for i, m := range p.result.Mods {
		if m.Equal(c) {
			return i + 1
		}
	}
	return 0
}

// status explains why c is or is not part of the load order.
func (p *modPlan) status(c discovery.Candidate) string {
	if p.order(c) > 0 {
		return statusSelected
	}
	if _, ok := p.found.Disabled[c.ID()]; ok {
		return statusDisabled
	}
	for _, coll := range p.result.Collisions {
		if coll.ID == c.ID() {
			return statusCollision
		}
	}
	if cy := p.result.Cycle; cy != nil && slices.Contains(cy.Mods, c.ID()) {
		return statusCycle
	}
	for _, u := range p.result.Unsatisfied {
		if u.Candidate.Equal(c) {
			return statusUnsatisfied + strings.Join(u.MissingIDs(), ", ")
		}
	}
	return statusSuperseded
}

// writeTable renders the plan. Only the load order is shown unless all is set.
func (p *modPlan) writeTable(w io.Writer, all bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "ID", "Version", "Type", "Status", "Path"})

	rows := p.result.Mods
	if all {
		rows = p.candidates()
	}
	for _, c := range rows {
		order := ""
		if n := p.order(c); n > 0 {
			order = fmt.Sprint(n)
		}
		t.AppendRow(table.Row{order, c.ID(), c.VersionString(), c.Metadata.Type(), p.status(c), c.Path})
	}
	t.Render()
}

// writeDiagnostics prints what discovery skipped and what could not be
// resolved.
func (p *modPlan) writeDiagnostics(w io.Writer, verbose bool) {
	for _, d := range p.found.Diagnostics {
		if d.Severity != discovery.SeverityError && !verbose {
			continue
		}
		line := fmt.Sprintf("%s: %s", d.Path, d.Message)
		if d.Cause != nil && verbose {
			line += ": " + d.Cause.Error()
		}
		fmt.Fprintln(w, WarningStyle.Render("! ")+VerboseStyle.Render(line))
	}
	if p.result.Err == nil {
		return
	}
	errs := []error{p.result.Err}
	if joined, ok := p.result.Err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	shown := make(map[issue.Id]bool)
	for _, err := range errs {
		ae := issue.ForModError("resolve mods", "", err)
		fmt.Fprintln(w, ErrorStyle.Render("✗ ")+ae.Format(verbose))
		guide, ok := ae.Guide()
		if !ok || shown[ae.Issue] {
			continue
		}
		shown[ae.Issue] = true
		if rendered, err := guide.Render("dark"); err == nil {
			fmt.Fprint(w, rendered)
		}
	}
}
