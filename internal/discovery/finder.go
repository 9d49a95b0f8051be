// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"errors"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
)

// ErrEmptyRoot is returned by a DirectoryFinder with no search root.
var ErrEmptyRoot = errors.New("empty search root")

type (
	// Finder enumerates paths that look like mods. The same path may be
	// reported more than once; callers deduplicate.
	Finder interface {
		FindCandidates(consume func(path string)) error
	}

	// DirectoryFinder reports the immediate children of one search root that
	// are valid mod directories or mountable mod archives.
	DirectoryFinder struct {
		fs       *vfs.FileSystem
		root     string
		logger   *log.Logger
		diagnose func(Diagnostic)
	}

	// FinderOption configures a DirectoryFinder.
	FinderOption func(*DirectoryFinder)
)

// WithFinderLogger sets the finder's logger.
func WithFinderLogger(l *log.Logger) FinderOption {
	return func(f *DirectoryFinder) { f.logger = l }
}

// WithDiagnostics forwards recoverable problems to fn.
func WithDiagnostics(fn func(Diagnostic)) FinderOption {
	return func(f *DirectoryFinder) { f.diagnose = fn }
}

// NewDirectoryFinder returns a finder over root.
func NewDirectoryFinder(fs *vfs.FileSystem, root string, opts ...FinderOption) *DirectoryFinder {
	f := &DirectoryFinder{fs: fs, root: root, logger: log.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Root returns the search root.
func (f *DirectoryFinder) Root() string { return f.root }

// FindCandidates implements Finder. A missing root reports nothing.
//
// Archives are mounted at their extension-stripped name. An archive whose
// mount point is already taken by a plain directory is ignored; one that
// does not hold a valid mod is unmounted again.
func (f *DirectoryFinder) FindCandidates(consume func(path string)) error {
	if f.root == "" {
		return ErrEmptyRoot
	}
	if !f.fs.Exists(f.root) {
		return nil
	}
	entries, err := f.fs.ReadDir(f.root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		p := path.Join(vfs.Clean(f.root), entry.Name())
		if entry.IsDir() {
			if IsValidMod(f.fs, p) {
				consume(p)
			}
			continue
		}
		if !f.fs.IsSupportedArchive(p) {
			continue
		}

		point := vfs.StripExtension(p)
		if archive, mounted := f.fs.MountedArchive(point); mounted && archive == p {
			// Still mounted from an earlier pass.
			if IsValidMod(f.fs, point) {
				consume(p)
			}
			continue
		}
		if f.fs.Exists(point) {
			f.logger.Warn("found mod directory and archive with the same name, the archive will be ignored", "archive", p)
			f.report(Diagnostic{Severity: SeverityWarning, Code: CodeArchiveIgnored, Message: "archive shadowed by a directory of the same name", Path: p})
			continue
		}
		if err := f.fs.Mount(p, point); err != nil {
			f.logger.Warn("failed to mount mod archive", "archive", p, "err", err)
			continue
		}
		if !IsValidMod(f.fs, point) {
			f.logger.Debug("archive does not contain a valid mod", "archive", p)
			_ = f.fs.Unmount(point)
			continue
		}
		consume(p)
	}
	return nil
}

func (f *DirectoryFinder) report(d Diagnostic) {
	if f.diagnose != nil {
		f.diagnose(d)
	}
}

// IsValidMod reports whether dir holds a manifest and a bin directory with
// at least one loadable library.
func IsValidMod(fs *vfs.FileSystem, dir string) bool {
	if !fs.IsRegular(path.Join(dir, balloonmod.ManifestFileName)) {
		return false
	}
	bin := path.Join(dir, "bin")
	if !fs.IsDir(bin) {
		return false
	}
	entries, err := fs.ReadDir(bin)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), modapi.LibraryExtension) {
			return true
		}
	}
	return false
}
