// SPDX-License-Identifier: MPL-2.0

// Package modctx implements the context mods talk to.
//
// Interfaces and factories are keyed by (owner, name, version). A mod can
// only register while its Init runs: after that its registrations are
// final, and the mod is pinned as FIXED because others may hold them.
// The maps are filled during the single-threaded init sweep and only read
// afterwards, so they carry no lock.
package modctx

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"weak"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/internal/logging"
	"github.com/balloon/balloon/internal/modconfig"
	"github.com/balloon/balloon/internal/registry"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/userdata"
)

var (
	// ErrInvalidArgument is returned for a nil value or an empty name.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownMod is returned when the owner or id is not a loaded mod,
	// or is empty outside of a mod entry point.
	ErrUnknownMod = errors.New("unknown mod")
	// ErrNotInitializing is returned when the owner is not inside Init.
	ErrNotInitializing = errors.New("mod is not initializing")
	// ErrDuplicate is returned when the key is already registered.
	ErrDuplicate = errors.New("already registered")
)

type (
	// InterfaceKey identifies a registered interface or factory. An empty
	// Owner is the built-in namespace.
	InterfaceKey struct {
		Owner   string
		Name    string
		Version int
	}

	// Context is the modapi.Context handed to mods.
	Context struct {
		registry *registry.Registry
		loggers  *logging.Store
		configs  *modconfig.Store
		events   modapi.Events
		logger   *log.Logger

		curMu   sync.Mutex
		current weak.Pointer[registry.Container]

		interfaces       map[InterfaceKey]any
		factories        map[InterfaceKey]any
		ifaceProviders   map[string]struct{}
		factoryProviders map[string]struct{}

		data userdata.Box
	}

	// Option configures a Context.
	Option func(*Context)
)

var _ modapi.Context = (*Context)(nil)

// WithLogger sets the logger for registration diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// New returns a context over reg. loggers and configs serve Logger and
// Config; events is returned by Events.
func New(reg *registry.Registry, loggers *logging.Store, configs *modconfig.Store, events modapi.Events, opts ...Option) *Context {
	c := &Context{
		registry:         reg,
		loggers:          loggers,
		configs:          configs,
		events:           events,
		logger:           log.Default(),
		interfaces:       make(map[InterfaceKey]any),
		factories:        make(map[InterfaceKey]any),
		ifaceProviders:   make(map[string]struct{}),
		factoryProviders: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare orders keys by owner, name, then version.
func (k InterfaceKey) Compare(o InterfaceKey) int {
	return cmp.Or(
		cmp.Compare(k.Owner, o.Owner),
		cmp.Compare(k.Name, o.Name),
		cmp.Compare(k.Version, o.Version),
	)
}

// String renders "owner/name@version", or "name@version" for built-ins.
func (k InterfaceKey) String() string {
	if k.Owner == "" {
		return fmt.Sprintf("%s@%d", k.Name, k.Version)
	}
	return fmt.Sprintf("%s/%s@%d", k.Owner, k.Name, k.Version)
}

// SetCurrentMod records the mod whose entry point is about to run. Pass nil
// once it returns. The context holds only a weak reference.
func (c *Context) SetCurrentMod(m *registry.Container) {
	c.curMu.Lock()
	defer c.curMu.Unlock()
	if m == nil {
		c.current = weak.Pointer[registry.Container]{}
		return
	}
	c.current = weak.Make(m)
}

// CurrentMod returns the mod whose entry point is running, if any.
func (c *Context) CurrentMod() (*registry.Container, bool) {
	c.curMu.Lock()
	defer c.curMu.Unlock()
	m := c.current.Value()
	if m == nil || !m.Alive() {
		return nil, false
	}
	return m, true
}

// ModCount returns the number of loaded mods.
func (c *Context) ModCount() int { return c.registry.Count() }

// ModAt returns the i-th loaded mod.
func (c *Context) ModAt(i int) (modapi.ModHandle, bool) {
	m, ok := c.registry.ModAt(i)
	if !ok {
		return nil, false
	}
	return m, true
}

// Mod returns the mod registered as id, or the current mod for "".
func (c *Context) Mod(id string) (modapi.ModHandle, bool) {
	m, ok := c.container(id)
	if !ok {
		return nil, false
	}
	return m, true
}

func (c *Context) container(id string) (*registry.Container, bool) {
	if id == "" {
		return c.CurrentMod()
	}
	return c.registry.Mod(id)
}

// RegisterInterface publishes iface under (owner, name, version). owner
// must be a mod that is instantiated and still inside Init; "" means the
// current mod. The owner becomes FIXED.
func (c *Context) RegisterInterface(owner, name string, version int, iface any) error {
	return c.register(c.interfaces, c.ifaceProviders, "interface", owner, name, version, iface)
}

// RegisterFactory publishes factory under (owner, name, version) with the
// same rules as RegisterInterface.
func (c *Context) RegisterFactory(owner, name string, version int, factory any) error {
	return c.register(c.factories, c.factoryProviders, "factory", owner, name, version, factory)
}

// RegisterBuiltinInterface publishes iface in the built-in namespace.
func (c *Context) RegisterBuiltinInterface(name string, version int, iface any) error {
	return registerBuiltin(c.interfaces, name, version, iface)
}

// RegisterBuiltinFactory publishes factory in the built-in namespace.
func (c *Context) RegisterBuiltinFactory(name string, version int, factory any) error {
	return registerBuiltin(c.factories, name, version, factory)
}

func (c *Context) register(table map[InterfaceKey]any, providers map[string]struct{}, kind, owner, name string, version int, v any) error {
	if v == nil || name == "" {
		return fmt.Errorf("%s %q: %w", kind, name, ErrInvalidArgument)
	}
	m, ok := c.container(owner)
	if !ok {
		return fmt.Errorf("%s %q owner %q: %w", kind, name, owner, ErrUnknownMod)
	}
	if m.Instance() == nil || m.HasFlags(modapi.FlagInitialized) {
		return fmt.Errorf("%s %q owner %s: %w", kind, name, m.ID(), ErrNotInitializing)
	}
	key := InterfaceKey{Owner: m.ID(), Name: name, Version: version}
	if _, dup := table[key]; dup {
		return fmt.Errorf("%s %s: %w", kind, key, ErrDuplicate)
	}
	m.AddFlags(modapi.FlagFixed)
	providers[m.ID()] = struct{}{}
	table[key] = v
	c.logger.Debug("registered "+kind, "key", key.String())
	return nil
}

func registerBuiltin(table map[InterfaceKey]any, name string, version int, v any) error {
	if v == nil || name == "" {
		return fmt.Errorf("builtin %q: %w", name, ErrInvalidArgument)
	}
	key := InterfaceKey{Name: name, Version: version}
	if _, dup := table[key]; dup {
		return fmt.Errorf("builtin %s: %w", key, ErrDuplicate)
	}
	table[key] = v
	return nil
}

// HasInterface reports whether owner has registered any interface.
func (c *Context) HasInterface(owner string) bool {
	_, ok := c.ifaceProviders[owner]
	return ok
}

// HasFactory reports whether owner has registered any factory.
func (c *Context) HasFactory(owner string) bool {
	_, ok := c.factoryProviders[owner]
	return ok
}

// Interface looks up an interface. An empty owner is the built-in
// namespace.
func (c *Context) Interface(owner, name string, version int) (any, bool) {
	v, ok := c.interfaces[InterfaceKey{Owner: owner, Name: name, Version: version}]
	return v, ok
}

// Factory looks up a factory. An empty owner is the built-in namespace.
func (c *Context) Factory(owner, name string, version int) (any, bool) {
	v, ok := c.factories[InterfaceKey{Owner: owner, Name: name, Version: version}]
	return v, ok
}

// Interfaces lists the registered interface keys in order.
func (c *Context) Interfaces() []InterfaceKey {
	return slices.SortedFunc(maps.Keys(c.interfaces), InterfaceKey.Compare)
}

// Factories lists the registered factory keys in order.
func (c *Context) Factories() []InterfaceKey {
	return slices.SortedFunc(maps.Keys(c.factories), InterfaceKey.Compare)
}

// Forget drops every interface and factory owned by id. The orchestrator
// calls it once a mod has been removed.
func (c *Context) Forget(id string) {
	if id == "" {
		return
	}
	owned := func(k InterfaceKey, _ any) bool { return k.Owner == id }
	maps.DeleteFunc(c.interfaces, owned)
	maps.DeleteFunc(c.factories, owned)
	delete(c.ifaceProviders, id)
	delete(c.factoryProviders, id)
}

// Logger returns the logger of mod id, or of the current mod for "".
// Outside of an entry point "" returns the loader's logger. The first
// retrieval marks the mod LOGGER_RETRIEVED and takes the reference the
// orchestrator releases when the mod is unloaded.
func (c *Context) Logger(id string) (modapi.Logger, error) {
	m, err := c.resolve(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return c.loggers.Default(), nil
	}
	if !m.AddFlags(modapi.FlagLoggerRetrieved).Has(modapi.FlagLoggerRetrieved) {
		return c.loggers.Get(m.ID()), nil
	}
	if l, ok := c.loggers.Lookup(m.ID()); ok {
		return l, nil
	}
	return c.loggers.Get(m.ID()), nil
}

// Config returns the config of mod id with the same rules as Logger.
// Outside of an entry point "" returns the loader's own config.
func (c *Context) Config(id string) (modapi.Config, error) {
	m, err := c.resolve(id)
	if err != nil {
		return nil, err
	}
	cid := logging.DefaultID
	if m != nil {
		cid = m.ID()
		if !m.AddFlags(modapi.FlagConfigRetrieved).Has(modapi.FlagConfigRetrieved) {
			return c.configs.Get(cid)
		}
	}
	if cfg, ok := c.configs.Lookup(cid); ok {
		return cfg, nil
	}
	return c.configs.Get(cid)
}

// resolve maps id to a container. A nil container with no error means the
// loader itself.
func (c *Context) resolve(id string) (*registry.Container, error) {
	if id == "" {
		m, _ := c.CurrentMod()
		return m, nil
	}
	m, ok := c.registry.Mod(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownMod)
	}
	return m, nil
}

// Events returns the shared event bus.
func (c *Context) Events() modapi.Events { return c.events }

// UserData returns the context's side table.
func (c *Context) UserData() *userdata.Box { return &c.data }
