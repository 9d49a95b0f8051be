// SPDX-License-Identifier: MPL-2.0

// Package modapi is the contract between the loader and the mods it loads.
//
// A mod is a Go plugin that exports EntrySymbol. The loader calls the entry
// with a nil registration to read back the record the mod installed, and
// compares the echoed Handshake against its own to detect a mod built
// against a different API revision.
package modapi

import (
	"strings"
	"unsafe"

	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/userdata"
)

const (
	// APIVersion is bumped whenever Registration or the Mod contract
	// changes shape.
	APIVersion uint32 = 1

	// EntrySymbol is the exported name the loader looks up in every mod
	// library.
	EntrySymbol = "BalloonModEntry"

	// LibraryExtension is the file extension of loadable mod libraries.
	// Go plugins use it on every platform that supports them.
	LibraryExtension = ".so"
)

// Mod flags. The low bits are declared by a mod from Init; the high bits are
// managed by the loader.
const (
	FlagHasOnUpdate     Flags = 0x1
	FlagHasOnLateUpdate Flags = 0x2

	FlagFixed           Flags = 0x10000
	FlagInitialized     Flags = 0x20000
	FlagConnected       Flags = 0x40000
	FlagLoggerRetrieved Flags = 0x100000
	FlagConfigRetrieved Flags = 0x200000

	// DeclarableFlags is the subset a mod may return from Init.
	DeclarableFlags = FlagHasOnUpdate | FlagHasOnLateUpdate
)

type (
	// Flags is a bitmask of mod capabilities and lifecycle state.
	Flags uint32

	// Mod is the instance created by a mod's factory. Init may register
	// interfaces and factories through ctx and returns the capability flags
	// the mod wants (FlagHasOnUpdate, FlagHasOnLateUpdate).
	Mod interface {
		Init(ctx Context) (Flags, error)
		Shutdown()
		Connect() error
		Disconnect()
	}

	// Updater is implemented by mods that declare FlagHasOnUpdate.
	Updater interface {
		OnUpdate()
	}

	// LateUpdater is implemented by mods that declare FlagHasOnLateUpdate.
	LateUpdater interface {
		OnLateUpdate()
	}

	// Registration is the static record a mod installs. ID and Version must
	// equal its manifest byte for byte.
	Registration struct {
		ID      string
		Version string
		Factory func() Mod
		Deleter func(Mod)
	}

	// Handshake carries the ABI parameters a library was built with.
	Handshake struct {
		APIVersion uint32
		Size       uintptr
		Align      uintptr
	}

	// EntryFunc is the signature of EntrySymbol. A non-nil reg installs it
	// and returns it. A nil reg returns the installed record and, when hs is
	// non-nil, overwrites hs with the library's own handshake.
	EntryFunc func(hs *Handshake, reg *Registration) *Registration

	// ModHandle is the read-only view of a loaded mod offered to other mods.
	ModHandle interface {
		ID() string
		Metadata() *balloonmod.Metadata
		Flags() Flags
		Instance() Mod
		RootPath() string
		UserData() *userdata.Box
	}

	// Logger is a levelled logger scoped to one mod. Fatal logs and returns.
	Logger interface {
		Trace(msg string, keyvals ...any)
		Debug(msg string, keyvals ...any)
		Info(msg string, keyvals ...any)
		Warn(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)
		Fatal(msg string, keyvals ...any)
	}

	// Config is a mod's persistent key/value section tree. Keys are dotted
	// paths such as "window.width".
	Config interface {
		Get(key string) any
		GetString(key string) string
		GetInt(key string) int
		GetBool(key string) bool
		GetFloat64(key string) float64
		Set(key string, value any)
		SetDefault(key string, value any)
		IsSet(key string) bool
		Sections() []string
	}

	// Context is the loader surface a mod talks to.
	//
	// An empty owner or id argument means "the mod whose entry point is
	// currently running".
	Context interface {
		ModCount() int
		ModAt(i int) (ModHandle, bool)
		Mod(id string) (ModHandle, bool)

		RegisterInterface(owner, name string, version int, iface any) error
		RegisterFactory(owner, name string, version int, factory any) error
		HasInterface(owner string) bool
		HasFactory(owner string) bool
		Interface(owner, name string, version int) (any, bool)
		Factory(owner, name string, version int) (any, bool)

		Logger(id string) (Logger, error)
		Config(id string) (Config, error)
		Events() Events
		UserData() *userdata.Box
	}
)

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// String lists the set flag names separated by "|".
func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagHasOnUpdate, "ONUPDATE"},
		{FlagHasOnLateUpdate, "ONLATEUPDATE"},
		{FlagFixed, "FIXED"},
		{FlagInitialized, "INITIALIZED"},
		{FlagConnected, "CONNECTED"},
		{FlagLoggerRetrieved, "LOGGER"},
		{FlagConfigRetrieved, "CONFIG"},
	}
	var set []string
	for _, n := range names {
		if f.Has(n.flag) {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, "|")
}

// CurrentHandshake describes the ABI of this build.
func CurrentHandshake() Handshake {
	var r Registration
	return Handshake{
		APIVersion: APIVersion,
		Size:       unsafe.Sizeof(r),
		Align:      unsafe.Alignof(r),
	}
}

// NewEntry returns an EntryFunc serving reg. Mods export the result:
//
//	var BalloonModEntry = modapi.NewEntry(modapi.Registration{...})
func NewEntry(reg Registration) EntryFunc {
	installed := &reg
	return func(hs *Handshake, r *Registration) *Registration {
		if r != nil {
			installed = r
			return r
		}
		if hs != nil {
			*hs = CurrentHandshake()
		}
		return installed
	}
}
