// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"errors"
	"fmt"
	"plugin"
	"runtime"
	"sync"

	"github.com/balloon/balloon/internal/registry"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/platform"
)

var (
	// ErrSymbolNotFound is returned when a library lacks a symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrLibraryNotFound is returned by StaticOpener for unknown paths.
	ErrLibraryNotFound = errors.New("library not found")
	// ErrBadEntry is returned when the entry symbol has the wrong type.
	ErrBadEntry = errors.New("entry symbol has the wrong type")
	// ErrHandshake is wrapped by HandshakeError.
	ErrHandshake = errors.New("incompatible mod library")
)

type (
	// LibraryOpener maps a host path to a loaded library.
	LibraryOpener interface {
		Open(path string) (registry.Library, error)
	}

	// PluginOpener loads Go plugins built with -buildmode=plugin.
	PluginOpener struct{}

	pluginLibrary struct {
		path string
		p    *plugin.Plugin
	}

	// StaticOpener serves libraries linked into the host binary, keyed by
	// the path they would have on disk. Builtin mods and tests use it.
	StaticOpener struct {
		mu   sync.RWMutex
		libs map[string]map[string]any
	}

	staticLibrary struct {
		path    string
		symbols map[string]any
	}

	// HandshakeError reports a library built against another API revision
	// or a different Registration layout.
	HandshakeError struct {
		Path     string
		Expected modapi.Handshake
		Received modapi.Handshake
	}
)

// Open implements LibraryOpener.
// It fails with platform.ErrPluginsUnsupported where Go has no plugin
// support.
func (PluginOpener) Open(path string) (registry.Library, error) {
	if err := platform.CheckPlugins(runtime.GOOS); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &pluginLibrary{path: path, p: p}, nil
}

func (l *pluginLibrary) Path() string { return l.path }

func (l *pluginLibrary) Lookup(symbol string) (any, error) {
	s, err := l.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w: %w", symbol, l.path, ErrSymbolNotFound, err)
	}
	return s, nil
}

// NewStaticOpener returns an empty StaticOpener.
func NewStaticOpener() *StaticOpener {
	return &StaticOpener{libs: make(map[string]map[string]any)}
}

// Register makes path resolvable with the given exported symbols.
func (o *StaticOpener) Register(path string, symbols map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.libs[path] = symbols
}

// RegisterEntry registers path as exporting reg under modapi.EntrySymbol.
func (o *StaticOpener) RegisterEntry(path string, reg modapi.Registration) {
	o.Register(path, map[string]any{modapi.EntrySymbol: modapi.NewEntry(reg)})
}

// Open implements LibraryOpener.
func (o *StaticOpener) Open(path string) (registry.Library, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	syms, ok := o.libs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLibraryNotFound)
	}
	return &staticLibrary{path: path, symbols: syms}, nil
}

func (l *staticLibrary) Path() string { return l.path }

func (l *staticLibrary) Lookup(symbol string) (any, error) {
	s, ok := l.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", symbol, l.path, ErrSymbolNotFound)
	}
	return s, nil
}

// Error names the field that differs: the API version first, then the
// Registration layout.
func (e *HandshakeError) Error() string {
	if e.Received.APIVersion != e.Expected.APIVersion {
		return fmt.Sprintf("library %s is using an incompatible version %d of the API, the supported version is %d",
			e.Path, e.Received.APIVersion, e.Expected.APIVersion)
	}
	return fmt.Sprintf("library %s: registration size or alignment are inconsistent (size: expected %d, received %d; alignment: expected %d, received %d)",
		e.Path, e.Expected.Size, e.Received.Size, e.Expected.Align, e.Received.Align)
}

// Unwrap returns ErrHandshake for errors.Is() compatibility.
func (e *HandshakeError) Unwrap() error { return ErrHandshake }

// entryOf accepts the entry exported either as a function or as a variable
// holding one. Go plugins return a pointer for exported variables.
func entryOf(sym any) (modapi.EntryFunc, bool) {
	switch e := sym.(type) {
	case modapi.EntryFunc:
		return e, e != nil
	case *modapi.EntryFunc:
		if e == nil || *e == nil {
			return nil, false
		}
		return *e, true
	case func(*modapi.Handshake, *modapi.Registration) *modapi.Registration:
		return e, e != nil
	case *func(*modapi.Handshake, *modapi.Registration) *modapi.Registration:
		if e == nil || *e == nil {
			return nil, false
		}
		return *e, true
	default:
		return nil, false
	}
}

// readRegistration calls the library entry on its read path and checks the
// echoed handshake.
func readRegistration(lib registry.Library) (*modapi.Registration, error) {
	sym, err := lib.Lookup(modapi.EntrySymbol)
	if err != nil {
		return nil, fmt.Errorf("library %s does not export the required symbol %s: %w", lib.Path(), modapi.EntrySymbol, err)
	}
	entry, ok := entryOf(sym)
	if !ok {
		return nil, fmt.Errorf("library %s: %s is %T: %w", lib.Path(), modapi.EntrySymbol, sym, ErrBadEntry)
	}

	want := modapi.CurrentHandshake()
	got := want
	info := entry(&got, nil)
	if got != want {
		return nil, &HandshakeError{Path: lib.Path(), Expected: want, Received: got}
	}
	if info == nil {
		return nil, fmt.Errorf("library %s failed to provide its registration: %w", lib.Path(), ErrBadEntry)
	}
	return info, nil
}
