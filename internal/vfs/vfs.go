// SPDX-License-Identifier: MPL-2.0

// Package vfs is the loader's view of the filesystem: a writable base tree
// (the loader directory on disk, or an in-memory tree in tests) with
// read-only archive mounts layered on top of it.
//
// All paths are slash-separated and absolute within the view, e.g.
// "/mods/extra/bin/extra.so". A mounted archive shadows the base tree at
// its mount point.
package vfs

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/afero/zipfs"
)

var (
	// ErrUnsupportedArchive is returned when mounting a file whose extension
	// is not a registered archive type.
	ErrUnsupportedArchive = errors.New("unsupported archive type")
	// ErrAlreadyMounted is returned when a mount point is already in use.
	ErrAlreadyMounted = errors.New("mount point already in use")
	// ErrNotMounted is returned when unmounting an unknown mount point.
	ErrNotMounted = errors.New("not mounted")
	// ErrReadOnly is returned for writes that land inside an archive mount.
	ErrReadOnly = errors.New("path is inside a read-only archive mount")
	// ErrNoRealPath is returned when a path has no host filesystem location.
	ErrNoRealPath = errors.New("path has no host filesystem location")
)

type (
	// FileSystem is safe for concurrent use.
	FileSystem struct {
		mu         sync.RWMutex
		base       afero.Fs
		mounts     map[string]*mount
		extensions []string
	}

	mount struct {
		point   string
		archive string
		fs      afero.Fs
	}

	// Option configures a FileSystem.
	Option func(*FileSystem)
)

// WithArchiveExtensions sets the file extensions (without dot) that are
// opened as zip containers. The default is "zip".
func WithArchiveExtensions(exts ...string) Option {
	return func(f *FileSystem) {
		f.extensions = f.extensions[:0]
		for _, e := range exts {
			e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
			if e != "" && !slices.Contains(f.extensions, e) {
				f.extensions = append(f.extensions, e)
			}
		}
	}
}

// New wraps base. base is used for every path outside a mount.
func New(base afero.Fs, opts ...Option) *FileSystem {
	f := &FileSystem{
		base:       base,
		mounts:     make(map[string]*mount),
		extensions: []string{"zip"},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewOS roots the view at dir on the host filesystem.
func NewOS(dir string, opts ...Option) *FileSystem {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts...)
}

// Base returns the writable base filesystem.
func (f *FileSystem) Base() afero.Fs { return f.base }

// Clean normalizes p into an absolute slash path.
func Clean(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// resolve returns the filesystem that owns p and p relative to it.
func (f *FileSystem) resolve(p string) (afero.Fs, string, *mount) {
	p = Clean(p)
	f.mu.RLock()
	defer f.mu.RUnlock()

	var best *mount
	for point, m := range f.mounts {
		if p != point && !strings.HasPrefix(p, point+"/") {
			continue
		}
		if best == nil || len(point) > len(best.point) {
			best = m
		}
	}
	if best == nil {
		return f.base, p, nil
	}
	return best.fs, Clean(strings.TrimPrefix(p, best.point)), best
}

// Stat describes p.
func (f *FileSystem) Stat(p string) (os.FileInfo, error) {
	fs, rel, _ := f.resolve(p)
	return fs.Stat(rel)
}

// Exists reports whether p exists.
func (f *FileSystem) Exists(p string) bool {
	_, err := f.Stat(p)
	return err == nil
}

// IsDir reports whether p is a directory.
func (f *FileSystem) IsDir(p string) bool {
	info, err := f.Stat(p)
	return err == nil && info.IsDir()
}

// IsRegular reports whether p is a regular file.
func (f *FileSystem) IsRegular(p string) bool {
	info, err := f.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// ReadDir lists the immediate children of p sorted by name.
func (f *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	fs, rel, _ := f.resolve(p)
	d, err := fs.Open(rel)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	entries, err := d.Readdir(-1)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// ReadFile returns the contents of p.
func (f *FileSystem) ReadFile(p string) ([]byte, error) {
	fs, rel, _ := f.resolve(p)
	return afero.ReadFile(fs, rel)
}

// WriteFile writes data to p on the base tree, creating parent directories.
func (f *FileSystem) WriteFile(p string, data []byte) error {
	if err := f.checkWritable(p); err != nil {
		return err
	}
	p = Clean(p)
	if err := f.base.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(f.base, p, data, 0o644)
}

// MkdirAll creates p and its parents on the base tree.
func (f *FileSystem) MkdirAll(p string) error {
	if err := f.checkWritable(p); err != nil {
		return err
	}
	return f.base.MkdirAll(Clean(p), 0o755)
}

// RemoveAll removes p and everything below it from the base tree. A
// missing p is not an error.
func (f *FileSystem) RemoveAll(p string) error {
	if err := f.checkWritable(p); err != nil {
		return err
	}
	return f.base.RemoveAll(Clean(p))
}

// OpenAppend opens p for appending on the base tree, creating it and its
// parent directories as needed.
func (f *FileSystem) OpenAppend(p string) (afero.File, error) {
	if err := f.checkWritable(p); err != nil {
		return nil, err
	}
	p = Clean(p)
	if err := f.base.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return f.base.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (f *FileSystem) checkWritable(p string) error {
	if _, _, m := f.resolve(p); m != nil {
		return fmt.Errorf("%s: %w", p, ErrReadOnly)
	}
	return nil
}

// CopyFile copies src (which may live in a mount) to dst on the base tree.
func (f *FileSystem) CopyFile(src, dst string) error {
	fs, rel, _ := f.resolve(src)
	in, err := fs.Open(rel)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := f.checkWritable(dst); err != nil {
		return err
	}
	dst = Clean(dst)
	if err := f.base.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := f.base.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RealPath maps p to a host path when the base tree is rooted on disk. In
// memory-backed views p is returned unchanged. Paths inside a mount have
// no host location.
func (f *FileSystem) RealPath(p string) (string, error) {
	if _, _, m := f.resolve(p); m != nil {
		return "", fmt.Errorf("%s: %w", p, ErrNoRealPath)
	}
	p = Clean(p)
	if bp, ok := f.base.(*afero.BasePathFs); ok {
		return bp.RealPath(p)
	}
	return p, nil
}

// SupportedArchiveTypes returns the extensions opened as archives.
func (f *FileSystem) SupportedArchiveTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.extensions)
}

// IsSupportedArchive reports whether name has a registered archive
// extension. The comparison ignores case.
func (f *FileSystem) IsSupportedArchive(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	return ext != "" && slices.Contains(f.SupportedArchiveTypes(), ext)
}

// StripExtension returns p without its final extension.
func StripExtension(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

// Mount opens archive (a base-tree path) and exposes its contents at point.
func (f *FileSystem) Mount(archive, point string) error {
	if !f.IsSupportedArchive(archive) {
		return fmt.Errorf("%s: %w", archive, ErrUnsupportedArchive)
	}
	archive, point = Clean(archive), Clean(point)

	data, err := afero.ReadFile(f.base, archive)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", archive, err)
	}
	tree, err := openZip(data)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archive, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.mounts[point]; busy {
		return fmt.Errorf("%s: %w", point, ErrAlreadyMounted)
	}
	f.mounts[point] = &mount{point: point, archive: archive, fs: tree}
	return nil
}

// Unmount removes the mount at point.
func (f *FileSystem) Unmount(point string) error {
	point = Clean(point)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounts[point]; !ok {
		return fmt.Errorf("%s: %w", point, ErrNotMounted)
	}
	delete(f.mounts, point)
	return nil
}

// MountedArchive returns the archive mounted at point.
func (f *FileSystem) MountedArchive(point string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.mounts[Clean(point)]
	if !ok {
		return "", false
	}
	return m.archive, true
}

// MountPoints lists the active mount points in lexical order.
func (f *FileSystem) MountPoints() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	points := make([]string, 0, len(f.mounts))
	for p := range f.mounts {
		points = append(points, p)
	}
	slices.Sort(points)
	return points
}

// openZip reads a zip through zipfs and replays it into a read-only memory
// tree so that archives without explicit directory entries still list.
func openZip(data []byte) (afero.Fs, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	src := zipfs.New(zr)
	mem := afero.NewMemMapFs()
	for _, zf := range zr.File {
		name := Clean(zf.Name)
		if zf.FileInfo().IsDir() {
			if err := mem.MkdirAll(name, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		content, err := afero.ReadFile(src, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", zf.Name, err)
		}
		if err := mem.MkdirAll(path.Dir(name), 0o755); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(mem, name, content, 0o644); err != nil {
			return nil, err
		}
	}
	return afero.NewReadOnlyFs(mem), nil
}
