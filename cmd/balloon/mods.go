// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/balloon/balloon/internal/discovery"
	"github.com/balloon/balloon/internal/issue"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/internal/watch"
	"github.com/balloon/balloon/pkg/balloonmod"
)

// newModsCommand creates the `balloon mods` command tree.
func newModsCommand(app *App, flags *rootFlagValues) *cobra.Command {
	modsCmd := &cobra.Command{
		Use:   "mods",
		Short: "Inspect the mod tree",
		Long: `Inspect the mod tree without loading any mod library.

Mods are looked up under every configured search root, inside the
loader directory. A mod is a directory or a zip archive holding a
balloon.mod.json manifest and a bin/ directory with the mod library.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var listAll bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the resolved load order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listMods(cmd.Context(), app, flags, listAll)
		},
	}
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "also show mods left out of the load order")
	modsCmd.AddCommand(listCmd)

	var raw bool
	infoCmd := &cobra.Command{
		Use:   "info <id>",
		Short: "Show what a mod declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showModInfo(cmd.Context(), app, flags, args[0], raw)
		},
	}
	infoCmd.Flags().BoolVar(&raw, "raw", false, "print markdown instead of rendering it")
	modsCmd.AddCommand(infoCmd)

	modsCmd.AddCommand(&cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate mod directories, archives or manifests",
		Long: `Validate mod directories, archives or manifests.

Each path is checked on its own: the manifest must parse and the bin/
directory must hold a mod library. Paths are checked concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateMods(cmd.Context(), app, flags, args)
		},
	})

	var debounce time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve the load order whenever a mod changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchMods(cmd.Context(), app, flags, debounce)
		},
	}
	watchCmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before re-resolving")
	modsCmd.AddCommand(watchCmd)

	return modsCmd
}

func listMods(ctx context.Context, app *App, flags *rootFlagValues, all bool) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}
	plan, err := app.planMods(cfg, app.cliLogger(cfg, flags.verbose))
	if err != nil {
		app.renderGuide(err)
		return err
	}

	if len(plan.result.Mods) == 0 && !all {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("No mods to load."))
	} else {
		plan.writeTable(app.stdout, all)
	}
	plan.writeDiagnostics(app.stderr, flags.verbose)
	return nil
}

func showModInfo(ctx context.Context, app *App, flags *rootFlagValues, id string, raw bool) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}
	plan, err := app.planMods(cfg, app.cliLogger(cfg, flags.verbose))
	if err != nil {
		app.renderGuide(err)
		return err
	}

	var matches []discovery.Candidate
	for _, c := range plan.candidates() {
		if c.ID() == id {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		err := issue.NewErrorContext().
			WithOperation("show mod").
			WithResource(id).
			WithSuggestion("Run 'balloon mods list --all' to see every discovered mod").
			WithIssue(issue.ModNotFoundId).
			Wrap(fmt.Errorf("no mod with id %q", id)).
			BuildError()
		app.renderGuide(err)
		return err
	}

	var sb strings.Builder
	for i, c := range matches {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		writeModMarkdown(&sb, c, plan.status(c))
	}
	if raw {
		fmt.Fprint(app.stdout, sb.String())
		return nil
	}
	rendered, err := glamour.Render(sb.String(), "dark")
	if err != nil {
		return fmt.Errorf("render mod info: %w", err)
	}
	fmt.Fprint(app.stdout, rendered)
	return nil
}

// writeModMarkdown describes one candidate as markdown.
func writeModMarkdown(sb *strings.Builder, c discovery.Candidate, status string) {
	m := c.Metadata
	title := m.Name()
	if title == "" {
		title = m.ID()
	}
	fmt.Fprintf(sb, "# %s\n\n", title)
	fmt.Fprintf(sb, "- **id:** `%s`\n", m.ID())
	fmt.Fprintf(sb, "- **version:** %s\n", m.VersionString())
	if m.Type() != "" {
		fmt.Fprintf(sb, "- **type:** %s\n", m.Type())
	}
	fmt.Fprintf(sb, "- **status:** %s\n", status)
	fmt.Fprintf(sb, "- **path:** `%s`\n", c.Path)
	if m.License() != "" {
		fmt.Fprintf(sb, "- **license:** %s\n", m.License())
	}
	sb.WriteString("\n")

	if d := m.Description(); d != "" {
		sb.WriteString(d + "\n\n")
	}
	if authors := m.Authors(); len(authors) > 0 {
		sb.WriteString("## Authors\n\n")
		for _, a := range authors {
			fmt.Fprintf(sb, "- %s\n", a)
		}
		sb.WriteString("\n")
	}
	if deps := m.Dependencies(); len(deps) > 0 {
		sb.WriteString("## Dependencies\n\n")
		for _, d := range deps {
			req := d.VersionRequirements()
			if !d.HasRequirements() {
				req = "any"
			}
			fmt.Fprintf(sb, "- `%s` %s (%s)\n", d.ID(), req, d.Kind())
		}
		sb.WriteString("\n")
	}
	var links []string
	if m.Homepage() != "" {
		links = append(links, fmt.Sprintf("- [Homepage](%s)", m.Homepage()))
	}
	if m.Repository() != "" {
		links = append(links, fmt.Sprintf("- [Repository](%s)", m.Repository()))
	}
	if len(links) > 0 {
		sb.WriteString("## Links\n\n" + strings.Join(links, "\n") + "\n")
	}
}

// validation is the outcome of checking one path.
type validation struct {
	path string
	meta *balloonmod.Metadata
	err  error
}

func validateMods(ctx context.Context, app *App, flags *rootFlagValues, paths []string) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}
	logger := app.cliLogger(cfg, flags.verbose)

	results := make([]validation, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, err := validateMod(p, cfg.ArchiveExtensions, logger)
			results[i] = validation{path: p, meta: meta, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(app.stdout, "%s %s\n", ErrorStyle.Render("✗"), r.path)
			fmt.Fprintf(app.stdout, "  %s\n", VerboseStyle.Render(r.err.Error()))
			for _, sug := range issue.ForModError("validate mod", "", r.err).Suggestions {
				fmt.Fprintf(app.stdout, "    • %s\n", sug)
			}
			continue
		}
		fmt.Fprintf(app.stdout, "%s %s %s\n", SuccessStyle.Render("✓"), r.path,
			SubtitleStyle.Render(fmt.Sprintf("(%s %s)", r.meta.ID(), r.meta.VersionString())))
	}
	if failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d mod(s) failed validation", failed, len(paths))}
	}
	return nil
}

// validateMod checks one host path: a mod directory, an archive or a
// manifest file inside a mod directory.
func validateMod(p string, archiveExts []string, logger *log.Logger) (*balloonmod.Metadata, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() && filepath.Base(abs) == balloonmod.ManifestFileName {
		abs = filepath.Dir(abs)
	}

	fs := vfs.NewOS(filepath.Dir(abs), vfs.WithArchiveExtensions(archiveExts...))
	target := "/" + filepath.Base(abs)
	modDir := target
	if !fs.IsDir(target) {
		if !fs.IsSupportedArchive(target) {
			return nil, fmt.Errorf("not a mod directory, archive or %s", balloonmod.ManifestFileName)
		}
		modDir = vfs.StripExtension(target)
		if err := fs.Mount(target, modDir); err != nil {
			return nil, err
		}
		defer func() { _ = fs.Unmount(modDir) }()
	}

	c, err := discovery.NewScanner(fs, nil, logger).ScanCandidate(target)
	if err != nil {
		return nil, err
	}
	if !discovery.IsValidMod(fs, modDir) {
		return nil, fmt.Errorf("bin/ holds no mod library: %w", loader.ErrLibraryMissing)
	}
	return c.Metadata, nil
}

func watchMods(ctx context.Context, app *App, flags *rootFlagValues, debounce time.Duration) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}
	logger := app.cliLogger(cfg, flags.verbose)

	replan := func() {
		plan, err := app.planMods(cfg, logger)
		if err != nil {
			fmt.Fprintln(app.stderr, ErrorStyle.Render("✗ ")+formatErrorForDisplay(err, flags.verbose))
			return
		}
		plan.writeTable(app.stdout, false)
		plan.writeDiagnostics(app.stderr, flags.verbose)
	}

	roots := make([]string, 0, len(cfg.SearchRoots))
	for _, r := range cfg.Roots() {
		roots = append(roots, filepath.Join(loaderDir(cfg), filepath.FromSlash(r)))
	}
	w, err := watch.New(watch.Config{
		Roots:             roots,
		ArchiveExtensions: cfg.ArchiveExtensions,
		Debounce:          debounce,
		Logger:            logger,
		OnChange: func(_ context.Context, changes []watch.Change) error {
			for _, c := range changes {
				fmt.Fprintf(app.stdout, "%s %s %s\n", WarningStyle.Render("~"), CmdStyle.Render(c.Mod),
					SubtitleStyle.Render(fmt.Sprintf("(%d file(s) changed)", len(c.Paths))))
			}
			replan()
			return nil
		},
	})
	if err != nil {
		return err
	}

	replan()
	fmt.Fprintln(app.stdout, SubtitleStyle.Render("Watching "+strings.Join(w.Roots(), ", ")))
	return w.Run(ctx)
}
