// SPDX-License-Identifier: MPL-2.0

// Package loader turns resolved mod candidates into registered mods.
//
// Load explores the search roots, resolves one consistent load order and
// loads each mod in turn: it finds the mod library, copies it out of the
// archive when needed, checks the entry point handshake and hands the
// result to the registry. A frozen loader refuses to load or unload.
package loader

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/discovery"
	"github.com/balloon/balloon/internal/registry"
	"github.com/balloon/balloon/internal/resolver"
	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/userdata"
)

// DefaultCacheDir is where archived mod libraries are extracted.
const DefaultCacheDir = "/cache"

var (
	// ErrNoSearchRoots is returned by Load without any root.
	ErrNoSearchRoots = errors.New("no mod search roots")
	// ErrFrozen is returned by Load and Unload on a frozen loader.
	ErrFrozen = errors.New("mod loader is frozen")
	// ErrNotLoaded is returned by Unload for ids it did not load.
	ErrNotLoaded = errors.New("mod is not loaded")
	// ErrLibraryMissing is returned when <root>/bin/<id>.so is absent.
	ErrLibraryMissing = errors.New("mod library not found")
	// ErrMismatch is returned when the registration disagrees with the
	// manifest.
	ErrMismatch = errors.New("registration does not match metadata")
)

type (
	// Loader loads mods into a registry.
	Loader struct {
		registry *registry.Registry
		fs       *vfs.FileSystem
		libs     LibraryOpener
		parser   *balloonmod.Parser
		resolver *resolver.Resolver
		cacheDir string
		disabled []string
		logger   *log.Logger

		frozen atomic.Bool

		mu    sync.Mutex
		cache map[string]weak.Pointer[handle]
		byID  map[string]*handle
		ids   map[*handle][]string

		data userdata.Box
	}

	// Option configures a Loader.
	Option func(*Loader)

	// Report describes one Load call.
	Report struct {
		// Plan is the resolved load order.
		Plan []discovery.Candidate
		// Loaded lists the ids that made it into the registry, in order.
		Loaded []string
		// Failed maps ids that were planned but not loaded to the reason.
		Failed map[string]error
		// Diagnostics are the discovery diagnostics.
		Diagnostics []discovery.Diagnostic
		// Resolution is the resolver outcome.
		Resolution resolver.Result
	}

	// handle pins a library for the ids loaded from it.
	handle struct {
		lib registry.Library
	}
)

// WithCacheDir sets the extraction directory for archived libraries.
func WithCacheDir(dir string) Option {
	return func(l *Loader) { l.cacheDir = vfs.Clean(dir) }
}

// WithParser sets the manifest parser.
func WithParser(p *balloonmod.Parser) Option {
	return func(l *Loader) { l.parser = p }
}

// WithDisabledMods keeps the given ids from being loaded.
func WithDisabledMods(ids ...string) Option {
	return func(l *Loader) { l.disabled = append(l.disabled, ids...) }
}

// WithLogger sets the loader's logger.
func WithLogger(lg *log.Logger) Option {
	return func(l *Loader) { l.logger = lg }
}

// New returns a loader that registers into reg, reads mods through fs and
// opens libraries with libs.
func New(reg *registry.Registry, fs *vfs.FileSystem, libs LibraryOpener, opts ...Option) *Loader {
	l := &Loader{
		registry: reg,
		fs:       fs,
		libs:     libs,
		cacheDir: DefaultCacheDir,
		logger:   log.Default(),
		cache:    make(map[string]weak.Pointer[handle]),
		byID:     make(map[string]*handle),
		ids:      make(map[*handle][]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.parser == nil {
		l.parser = balloonmod.NewParser(balloonmod.WithLogger(l.logger))
	}
	l.resolver = resolver.New(resolver.WithLogger(l.logger))
	return l
}

// Load discovers, resolves and loads every mod under roots. Individual mod
// failures are logged and recorded in the report; only an empty root list
// or a frozen loader fail the call.
func (l *Loader) Load(roots []string) (*Report, error) {
	if len(roots) == 0 {
		return nil, ErrNoSearchRoots
	}
	if l.IsFrozen() {
		return nil, ErrFrozen
	}

	rep := &Report{Failed: make(map[string]error)}
	explorer := discovery.NewExplorer(
		discovery.NewScanner(l.fs, l.parser, l.logger),
		discovery.WithDisabledMods(l.disabled...),
		discovery.WithExplorerLogger(l.logger),
	)
	for _, root := range roots {
		if root == "" {
			continue
		}
		explorer.AddFinder(discovery.NewDirectoryFinder(l.fs, root, discovery.WithFinderLogger(l.logger)))
	}
	found := explorer.Explore()
	rep.Diagnostics = found.Diagnostics

	rep.Resolution = l.resolver.Resolve(found.Candidates.Items(), found.Disabled)
	rep.Plan = rep.Resolution.Mods
	l.dumpPlan(rep.Plan)

	for _, c := range rep.Plan {
		if err := l.LoadMod(c); err != nil {
			l.logger.Error("failed to load mod", "mod", c.ID(), "err", err)
			rep.Failed[c.ID()] = err
			continue
		}
		rep.Loaded = append(rep.Loaded, c.ID())
	}
	return rep, nil
}

func (l *Loader) dumpPlan(mods []discovery.Candidate) {
	if len(mods) == 1 {
		l.logger.Infof("Loading 1 mod: %s %s", mods[0].ID(), mods[0].VersionString())
		return
	}
	l.logger.Infof("Loading %d mods:", len(mods))
	for _, m := range mods {
		l.logger.Infof("\t%s %s", m.ID(), m.VersionString())
	}
}

// LoadMod loads one resolved candidate and registers it. When an archived
// mod fails to load, its mount and cached libraries are removed.
func (l *Loader) LoadMod(c discovery.Candidate) (err error) {
	if !c.IsValid() || c.Path == "" {
		return fmt.Errorf("load %s: %w", c, registry.ErrInvalidArgument)
	}
	id := c.ID()
	source := vfs.Clean(c.Path)
	archive := !l.fs.IsDir(source)
	root := source
	if archive {
		root = vfs.StripExtension(source)
		defer func() {
			if err != nil {
				l.discardArchive(id, root)
			}
		}()
	}

	binDir := path.Join(root, "bin")
	libPath := path.Join(binDir, id+modapi.LibraryExtension)
	if !l.fs.IsRegular(libPath) {
		return fmt.Errorf("mod library %s: %w", libPath, ErrLibraryMissing)
	}

	if archive {
		cached, err := l.extract(id, binDir)
		if err != nil {
			return err
		}
		libPath = path.Join(cached, id+modapi.LibraryExtension)
	}

	hostPath, err := l.fs.RealPath(libPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", libPath, err)
	}
	h, err := l.openLibrary(hostPath)
	if err != nil {
		return fmt.Errorf("failed to load library for mod %s: %w", id, err)
	}

	info, err := readRegistration(h.lib)
	if err != nil {
		return err
	}
	if info.ID != id {
		return fmt.Errorf("the id [%s] in the mod info is inconsistent with the id [%s] in the metadata: %w", info.ID, id, ErrMismatch)
	}
	if info.Version != c.VersionString() {
		return fmt.Errorf("the version [%s] in the mod info is inconsistent with the version [%s] in the metadata: %w",
			info.Version, c.VersionString(), ErrMismatch)
	}

	if _, err = l.registry.AddMod(root, source, c.Metadata, h.lib, info); err != nil {
		return fmt.Errorf("failed to add mod %s to the registry: %w", id, err)
	}
	if archive {
		l.unmountOnRemove(id, root)
	}

	l.mu.Lock()
	l.byID[id] = h
	l.ids[h] = append(l.ids[h], id)
	l.mu.Unlock()
	return nil
}

// extract copies every file of binDir into <cacheDir>/<id>/bin and returns
// that directory.
func (l *Loader) extract(id, binDir string) (string, error) {
	dst := path.Join(l.cacheDir, id, "bin")
	if err := l.fs.MkdirAll(dst); err != nil {
		return "", fmt.Errorf("create cache directory %s: %w", dst, err)
	}
	entries, err := l.fs.ReadDir(binDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", binDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := path.Join(binDir, e.Name())
		if err := l.fs.CopyFile(src, path.Join(dst, e.Name())); err != nil {
			return "", fmt.Errorf("failed to copy %s to cache directory: %w", src, err)
		}
	}
	return dst, nil
}

// discardArchive undoes what loading an archived mod left behind: the
// mount made when it was scanned and the cache directory of its libraries.
func (l *Loader) discardArchive(id, point string) {
	if _, ok := l.fs.MountedArchive(point); ok {
		if err := l.fs.Unmount(point); err != nil {
			l.logger.Warn("failed to unmount archive", "mod", id, "mount", point, "err", err)
		}
	}
	dir := path.Join(l.cacheDir, id)
	if err := l.fs.RemoveAll(dir); err != nil {
		l.logger.Warn("failed to clear cache directory", "mod", id, "dir", dir, "err", err)
	}
}

// unmountOnRemove drops the archive mount once the mod leaves the
// registry. The callback removes itself after firing.
func (l *Loader) unmountOnRemove(id, point string) {
	var cbID registry.CallbackID
	cbID = l.registry.AddCallback(registry.PhasePostRemove, func(c *registry.Container) error {
		if c.ID() != id {
			return nil
		}
		l.registry.RemoveCallback(cbID)
		if _, ok := l.fs.MountedArchive(point); !ok {
			return nil
		}
		return l.fs.Unmount(point)
	})
}

// openLibrary opens p, reusing the handle of a library that is still
// referenced.
func (l *Loader) openLibrary(p string) (*handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if wp, ok := l.cache[p]; ok {
		if h := wp.Value(); h != nil {
			return h, nil
		}
	}
	lib, err := l.libs.Open(p)
	if err != nil {
		return nil, err
	}
	h := &handle{lib: lib}
	l.cache[p] = weak.Make(h)
	return h, nil
}

// Unload forgets the library recorded for id. The registry entry must
// already be gone; the orchestrator removes it first.
func (l *Loader) Unload(id string) error {
	if l.IsFrozen() {
		return ErrFrozen
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotLoaded)
	}
	delete(l.byID, id)
	rest := slices.DeleteFunc(slices.Clone(l.ids[h]), func(x string) bool { return x == id })
	if len(rest) == 0 {
		delete(l.ids, h)
	} else {
		l.ids[h] = rest
	}
	return nil
}

// IsLoaded reports whether the loader holds a library for id.
func (l *Loader) IsLoaded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byID[id]
	return ok
}

// LibraryPath returns the host path of the library loaded for id.
func (l *Loader) LibraryPath(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.byID[id]
	if !ok {
		return "", false
	}
	return h.lib.Path(), true
}

// Freeze makes Load and Unload fail until Revive.
func (l *Loader) Freeze() { l.frozen.Store(true) }

// Revive undoes Freeze.
func (l *Loader) Revive() { l.frozen.Store(false) }

// IsFrozen reports whether the loader is frozen.
func (l *Loader) IsFrozen() bool { return l.frozen.Load() }

// UserData returns the loader's side table.
func (l *Loader) UserData() *userdata.Box { return &l.data }
