// SPDX-License-Identifier: MPL-2.0

package balloon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/balloon/balloon/internal/config"
	"github.com/balloon/balloon/internal/events"
	"github.com/balloon/balloon/internal/hook"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/logging"
	"github.com/balloon/balloon/internal/modconfig"
	"github.com/balloon/balloon/internal/modctx"
	"github.com/balloon/balloon/internal/registry"
	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/refcount"
	"github.com/balloon/balloon/pkg/userdata"
)

// Orchestrator state bits.
const (
	FlagInited        Flags = 0x1
	FlagModsLoaded    Flags = 0x10
	FlagModsInited    Flags = 0x20
	FlagModsConnected Flags = 0x40
	FlagLoggerInited  Flags = 0x100
)

// Built-in interface and factory names registered by Init.
const (
	InterfaceFS      = "fs"
	InterfaceEvents  = "events"
	InterfaceHook    = "hook"
	FactoryUserData  = "userdata"
	FactoryLiveness  = "liveness"
	BuiltinVersion   = 1
	logFileExtension = ".log"
	cfgFileExtension = ".json"
)

var (
	// ErrNotInited is returned by lifecycle calls made before Init.
	ErrNotInited = errors.New("balloon is not initialized")
	// ErrWrongPhase is returned when a lifecycle step runs out of order.
	ErrWrongPhase = errors.New("lifecycle step out of order")
	// ErrModPanicked is wrapped by PanicError.
	ErrModPanicked = errors.New("mod panicked")
	// ErrFixedModFailed is returned when a FIXED mod fails Init or Connect
	// and the sweep is aborted.
	ErrFixedModFailed = errors.New("fixed mod failed")
	// ErrModRemovalVetoed is returned by the PREREMOVE guard for FIXED mods.
	ErrModRemovalVetoed = errors.New("fixed mods cannot be removed")
)

type (
	// Flags is the orchestrator state bitmask.
	Flags uint32

	// PanicError is returned when a mod entry point panics.
	PanicError struct {
		Mod   string
		Entry string
		Value any
	}

	// Balloon owns the loader runtime: filesystem, event bus, hook table,
	// logger and config stores, registry, loader and mod context. It is
	// driven from the host's lifecycle thread.
	Balloon struct {
		cfg     *config.Config
		session uuid.UUID
		flags   atomic.Uint32

		fs       *vfs.FileSystem
		events   *events.Manager
		hooks    *hook.Table
		loggers  *logging.Store
		configs  *modconfig.Store
		registry *registry.Registry
		loader   *loader.Loader
		ctx      *modctx.Context
		logger   *logging.Logger

		console io.Writer
		libs    loader.LibraryOpener

		own           *modconfig.Config
		builtins      bool
		removeLogFile func()
		callbacks     []registry.CallbackID
		hookIDs       []hook.ID
		resources     map[string]*modResources
		updaters      []*registry.Container
		lateUpdaters  []*registry.Container

		data userdata.Box
	}

	// Option configures a Balloon.
	Option func(*Balloon)

	// modResources are the references the orchestrator holds for a mod.
	modResources struct {
		logger *logging.Logger
		config *modconfig.Config
	}
)

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// String renders the set bits.
func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagInited, "INITED"},
		{FlagModsLoaded, "MODS_LOADED"},
		{FlagModsInited, "MODS_INITED"},
		{FlagModsConnected, "MODS_CONNECTED"},
		{FlagLoggerInited, "LOGGER_INITED"},
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

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("mod %s panicked in %s: %v", e.Mod, e.Entry, e.Value)
}

// Unwrap returns ErrModPanicked for errors.Is() compatibility.
func (e *PanicError) Unwrap() error { return ErrModPanicked }

// WithFileSystem replaces the loader tree. The default is the host
// directory cfg.LoaderDir.
func WithFileSystem(fs *vfs.FileSystem) Option {
	return func(b *Balloon) { b.fs = fs }
}

// WithLibraryOpener replaces the plugin based library opener.
func WithLibraryOpener(o loader.LibraryOpener) Option {
	return func(b *Balloon) { b.libs = o }
}

// WithConsole sets where log lines go besides the log files. The default
// is os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(b *Balloon) { b.console = w }
}

// New builds an orchestrator for cfg. Nothing touches the filesystem
// before Init.
func New(cfg *config.Config, opts ...Option) (*Balloon, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if valid, errs := cfg.IsValid(); !valid {
		return nil, errors.Join(errs...)
	}
	level, err := logging.ParseLevel(cfg.LogLevel.String())
	if err != nil {
		return nil, err
	}

	b := &Balloon{cfg: cfg, resources: make(map[string]*modResources)}
	for _, opt := range opts {
		opt(b)
	}
	if b.fs == nil {
		dir := cfg.LoaderDir.String()
		if dir == "" {
			dir = "."
		}
		b.fs = vfs.NewOS(dir, vfs.WithArchiveExtensions(cfg.ArchiveExtensions...))
	}
	if b.libs == nil {
		b.libs = loader.PluginOpener{}
	}

	b.loggers = logging.NewStore(b.console, level)
	b.logger = b.loggers.Default()
	std := b.logger.Std()

	b.configs = modconfig.NewStore()
	b.events = events.New(std)
	b.hooks = hook.New(hook.WithLogger(std))
	b.registry = registry.New(std)
	b.loader = loader.New(b.registry, b.fs, b.libs,
		loader.WithCacheDir(cfg.CacheDir.String()),
		loader.WithDisabledMods(cfg.DisabledMods...),
		loader.WithLogger(std),
	)
	b.ctx = modctx.New(b.registry, b.loggers, b.configs, b.events, modctx.WithLogger(std))
	return b, nil
}

// Config returns the loader configuration.
func (b *Balloon) Config() *config.Config { return b.cfg }

// Session returns the id of the current session, set by Init.
func (b *Balloon) Session() uuid.UUID { return b.session }

// FileSystem returns the loader tree.
func (b *Balloon) FileSystem() *vfs.FileSystem { return b.fs }

// Events returns the event bus.
func (b *Balloon) Events() *events.Manager { return b.events }

// Hooks returns the host callback table.
func (b *Balloon) Hooks() *hook.Table { return b.hooks }

// Loggers returns the logger store.
func (b *Balloon) Loggers() *logging.Store { return b.loggers }

// Configs returns the per-mod config store.
func (b *Balloon) Configs() *modconfig.Store { return b.configs }

// Registry returns the mod registry.
func (b *Balloon) Registry() *registry.Registry { return b.registry }

// Loader returns the mod loader.
func (b *Balloon) Loader() *loader.Loader { return b.loader }

// Context returns the context handed to mods.
func (b *Balloon) Context() *modctx.Context { return b.ctx }

// Logger returns the loader's own logger.
func (b *Balloon) Logger() *logging.Logger { return b.logger }

// UserData returns the orchestrator's side table.
func (b *Balloon) UserData() *userdata.Box { return &b.data }

// Flags returns the orchestrator state.
func (b *Balloon) Flags() Flags { return Flags(b.flags.Load()) }

// HasFlags reports whether every bit of f is set.
func (b *Balloon) HasFlags(f Flags) bool { return b.Flags().Has(f) }

func (b *Balloon) addFlags(f Flags) { b.flags.Or(uint32(f)) }

func (b *Balloon) clearFlags(f Flags) { b.flags.And(^uint32(f)) }

// Init starts a session: it opens the loader log file, reads the loader's
// own config, registers the built-in interfaces and wires the registry
// callbacks. Calling Init twice is a no-op.
func (b *Balloon) Init() error {
	if b.HasFlags(FlagInited) {
		return nil
	}
	b.session = uuid.New()

	if err := b.initLogFile(); err != nil {
		b.logger.Warn("loader log file unavailable", "err", err)
	} else {
		b.addFlags(FlagLoggerInited)
	}
	b.logger.Info("Balloon session started", "session", b.session, "level", logging.LevelName(b.loggers.Level()))

	own, err := b.configs.Get(logging.DefaultID)
	if err != nil {
		return err
	}
	b.own = own
	if err := b.readConfig(own, b.configPath(logging.DefaultID)); err != nil {
		b.logger.Warn("failed to read loader config", "err", err)
	}

	if !b.builtins {
		if err := b.registerBuiltins(); err != nil {
			return err
		}
		b.builtins = true
	}

	b.callbacks = append(b.callbacks,
		b.registry.AddCallback(registry.PhasePreRemove, b.guardFixed),
		b.registry.AddCallback(registry.PhasePostRemove, b.forget),
	)

	for _, name := range []string{
		events.ModsLoaded, events.ModsInitialized, events.ModsConnected,
		events.ModsDisconnected, events.ModsShutdown, events.ModsUnloaded,
	} {
		b.events.AddType(name)
	}

	b.addFlags(FlagInited)
	return nil
}

// Shutdown tears down whatever the session reached and persists the
// loader config. The orchestrator can be Init'ed again afterwards.
func (b *Balloon) Shutdown() {
	if !b.HasFlags(FlagInited) {
		return
	}
	b.Detach()
	b.DisconnectMods()
	b.ShutdownMods()
	b.UnloadMods()

	for _, id := range b.callbacks {
		b.registry.RemoveCallback(id)
	}
	b.callbacks = nil

	if b.own != nil {
		if err := b.writeConfig(b.own, b.configPath(logging.DefaultID)); err != nil {
			b.logger.Error("failed to save loader config", "err", err)
		}
		b.own.Release()
		b.own = nil
	}
	b.events.Reset()

	b.logger.Info("Balloon session ended", "session", b.session)
	if b.removeLogFile != nil {
		b.removeLogFile()
		b.removeLogFile = nil
	}
	b.clearFlags(FlagInited | FlagLoggerInited)
}

// Attach installs the lifecycle handlers on the host callback table.
func (b *Balloon) Attach() error {
	if len(b.hookIDs) > 0 {
		return nil
	}
	handlers := []struct {
		point hook.Point
		name  string
		fn    hook.Handler
	}{
		{hook.EngineInit, "balloon.load", func(ctx context.Context) error {
			if _, err := b.LoadMods(); err != nil {
				return err
			}
			return b.InitMods()
		}},
		{hook.PostReset, "balloon.connect", func(context.Context) error { return b.ConnectMods() }},
		{hook.PreClearAll, "balloon.disconnect", func(context.Context) error { b.DisconnectMods(); return nil }},
		{hook.PostProcess, "balloon.process", func(context.Context) error { b.Process(); return nil }},
		{hook.EngineEnd, "balloon.unload", func(context.Context) error {
			b.ShutdownMods()
			b.UnloadMods()
			return nil
		}},
	}
	for _, h := range handlers {
		id, err := b.hooks.On(h.point, h.name, h.fn)
		if err != nil {
			b.Detach()
			return err
		}
		b.hookIDs = append(b.hookIDs, id)
	}
	return nil
}

// Detach removes the handlers installed by Attach.
func (b *Balloon) Detach() {
	for _, id := range b.hookIDs {
		b.hooks.Off(id)
	}
	b.hookIDs = nil
}

// registerBuiltins publishes the loader services in the built-in
// namespace. They outlive sessions, so this runs once per Balloon.
func (b *Balloon) registerBuiltins() error {
	interfaces := []struct {
		name string
		v    any
	}{
		{InterfaceFS, b.fs},
		{InterfaceEvents, modapi.Events(b.events)},
		{InterfaceHook, b.hooks},
	}
	for _, bi := range interfaces {
		if err := b.ctx.RegisterBuiltinInterface(bi.name, BuiltinVersion, bi.v); err != nil {
			return fmt.Errorf("register %s: %w", bi.name, err)
		}
	}
	if err := b.ctx.RegisterBuiltinFactory(FactoryUserData, BuiltinVersion, func() *userdata.Box { return &userdata.Box{} }); err != nil {
		return fmt.Errorf("register %s: %w", FactoryUserData, err)
	}
	if err := b.ctx.RegisterBuiltinFactory(FactoryLiveness, BuiltinVersion, refcount.NewLiveness); err != nil {
		return fmt.Errorf("register %s: %w", FactoryLiveness, err)
	}
	return nil
}

func (b *Balloon) initLogFile() error {
	f, err := b.fs.OpenAppend(path.Join(b.cfg.LogDir.String(), logging.DefaultID+logFileExtension))
	if err != nil {
		return err
	}
	b.removeLogFile = b.logger.AddSink(f)
	return nil
}

func (b *Balloon) configPath(id string) string {
	return path.Join(b.cfg.ModConfigDir.String(), id+cfgFileExtension)
}
