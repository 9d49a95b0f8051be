// SPDX-License-Identifier: MPL-2.0

// Package watch reports changes to the mods under the search roots.
//
// The host directories of the roots are watched recursively. Events that
// touch a manifest, a library or a mod archive are debounced and handed
// to the callback grouped by mod, so a mod rebuilt file by file fires once.
package watch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
)

const defaultDebounce = 500 * time.Millisecond

var (
	// ErrNoRoots is returned by New without any existing root.
	ErrNoRoots = errors.New("watch: no root directory to watch")
	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("watch: Run called more than once")

	// defaultPatterns select the files that make up a mod.
	defaultPatterns = []string{
		"*/" + balloonmod.ManifestFileName,
		"*/bin/*" + modapi.LibraryExtension,
		"*.zip",
	}

	// defaultIgnores are editor and OS noise.
	defaultIgnores = []string{
		"**/.git/**",
		"**/*.swp",
		"**/*.swo",
		"**/*~",
		"**/.DS_Store",
	}
)

type (
	// Change is one mod touched during a debounce window.
	Change struct {
		// Root is the host directory the mod lives in.
		Root string
		// Mod is the mod folder or archive name without extension.
		Mod string
		// Paths are the changed files relative to Root.
		Paths []string
	}

	// Config holds the parameters for a Watcher.
	Config struct {
		// Roots are host directories holding mods. Missing roots are skipped.
		Roots []string
		// Patterns select the files that trigger a change, relative to a
		// root, in doublestar syntax. Empty means the mod files.
		Patterns []string
		// Ignore are extra patterns that never trigger a change.
		Ignore []string
		// ArchiveExtensions replaces "zip" as the archive extensions.
		ArchiveExtensions []string
		// Debounce is the quiet period before OnChange fires.
		Debounce time.Duration
		// OnChange receives the changes sorted by root then mod.
		OnChange func(ctx context.Context, changes []Change) error
		// Logger defaults to log.Default().
		Logger *log.Logger
	}

	// Watcher monitors the roots. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		roots    []string
		patterns []string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

// New validates cfg and registers every directory under the roots.
func New(cfg Config) (*Watcher, error) {
	var roots []string
	for _, r := range cfg.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve root %q: %w", r, err)
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() && !slices.Contains(roots, abs) {
			roots = append(roots, abs)
		}
	}
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = slices.Clone(defaultPatterns)
		for _, ext := range cfg.ArchiveExtensions {
			if p := "*." + strings.TrimPrefix(ext, "."); !slices.Contains(patterns, p) {
				patterns = append(patterns, p)
			}
		}
	}
	if err := validatePatterns(patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		roots:    roots,
		patterns: patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: cmp.Or(max(cfg.Debounce, 0), defaultDebounce),
		logger:   cmp.Or(cfg.Logger, log.Default()),
	}
	for _, root := range roots {
		if err := w.addDirectories(root); err != nil {
			if closeErr := fsw.Close(); closeErr != nil {
				w.logger.Warn("watch: close after init failure", "err", closeErr)
			}
			return nil, err
		}
	}
	return w, nil
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string { return slices.Clone(w.roots) }

// Run processes events until ctx is done. It returns nil on cancellation
// and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]map[string]struct{}) // root -> rel paths
		timer   *time.Timer
		busy    atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		changes := w.group(pending)
		clear(pending)
		mu.Unlock()
		if len(changes) == 0 || w.cfg.OnChange == nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changes); err != nil {
			w.logger.Error("watch: callback failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("watch: close fsnotify", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			root, rel, ok := w.relative(evt.Name)
			if !ok || w.isIgnored(rel) || !w.matches(rel) {
				continue
			}
			w.logger.Debug("watch: mod file changed", "root", root, "path", rel, "op", evt.Op)

			mu.Lock()
			if pending[root] == nil {
				pending[root] = make(map[string]struct{})
			}
			pending[root][rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalWatchError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("watch: fsnotify error", "err", err)
		}
	}
}

// group turns the pending paths into one Change per mod.
func (w *Watcher) group(pending map[string]map[string]struct{}) []Change {
	var changes []Change
	for root, rels := range pending {
		byMod := make(map[string][]string)
		for rel := range rels {
			mod := ModName(rel)
			byMod[mod] = append(byMod[mod], rel)
		}
		for mod, paths := range byMod {
			slices.Sort(paths)
			changes = append(changes, Change{Root: root, Mod: mod, Paths: paths})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int {
		return cmp.Or(cmp.Compare(a.Root, b.Root), cmp.Compare(a.Mod, b.Mod))
	})
	return changes
}

// ModName returns the mod a root-relative path belongs to: the first path
// element without its archive extension.
func ModName(rel string) string {
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if ext := filepath.Ext(first); ext != "" && !strings.Contains(rel, "/") {
		return strings.TrimSuffix(first, ext)
	}
	return first
}

// relative maps an absolute event path to its root and root-relative path.
// Nested roots resolve to the innermost one.
func (w *Watcher) relative(p string) (root, rel string, ok bool) {
	for _, r := range w.roots {
		x, err := filepath.Rel(r, p)
		if err != nil || x == "." || strings.HasPrefix(x, "..") {
			continue
		}
		if !ok || len(r) > len(root) {
			root, rel, ok = r, filepath.ToSlash(x), true
		}
	}
	return root, rel, ok
}

func (w *Watcher) addDirectories(root string) error {
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("watch: skipping inaccessible path", "path", p, "err", walkErr)
			return nil //nolint:nilerr // inaccessible subtrees are not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(root, p); err == nil && rel != "." && w.isIgnored(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", root, err)
	}
	return nil
}

func (w *Watcher) maybeAddDir(p string) {
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return
	}
	if _, rel, ok := w.relative(p); ok && w.isIgnored(rel+"/") {
		return
	}
	if err := w.fsw.Add(p); err != nil {
		w.logger.Warn("watch: add new directory", "path", p, "err", err)
	}
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultPatterns returns a copy of the built-in mod file patterns.
func DefaultPatterns() []string { return slices.Clone(defaultPatterns) }

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string { return slices.Clone(defaultIgnores) }

func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) || pat == "" {
			return fmt.Errorf("watch: invalid %s pattern %q", label, pat)
		}
	}
	return nil
}
