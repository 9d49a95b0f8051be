// SPDX-License-Identifier: MPL-2.0

package modctx

import (
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/internal/events"
	"github.com/balloon/balloon/internal/logging"
	"github.com/balloon/balloon/internal/modconfig"
	"github.com/balloon/balloon/internal/registry"
	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/userdata"
)

type (
	stubLib struct{}

	stubMod struct{ id string }

	fixture struct {
		reg     *registry.Registry
		loggers *logging.Store
		configs *modconfig.Store
		ctx     *Context
	}
)

func (stubLib) Path() string { return "stub.so" }

func (stubLib) Lookup(string) (any, error) { return nil, errors.New("no symbols") }

func (*stubMod) Init(modapi.Context) (modapi.Flags, error) { return 0, nil }

func (*stubMod) Shutdown() {}

func (*stubMod) Connect() error { return nil }

func (*stubMod) Disconnect() {}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	quiet := log.New(io.Discard)
	f := &fixture{
		reg:     registry.New(quiet),
		loggers: logging.NewStore(io.Discard, log.InfoLevel),
		configs: modconfig.NewStore(),
	}
	f.ctx = New(f.reg, f.loggers, f.configs, events.New(quiet), WithLogger(quiet))
	for _, id := range ids {
		meta, err := balloonmod.New(id, "1.0.0")
		require.NoError(t, err)
		_, err = f.reg.AddMod("/mods/"+id, "/mods/"+id, meta, stubLib{}, &modapi.Registration{
			ID:      id,
			Version: "1.0.0",
			Factory: func() modapi.Mod { return &stubMod{id: id} },
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) instantiate(t *testing.T, id string) *registry.Container {
	t.Helper()
	c, ok := f.reg.Mod(id)
	require.True(t, ok)
	_, err := c.Instantiate()
	require.NoError(t, err)
	return c
}

func TestModLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core", "extra")
	assert.Equal(t, 2, f.ctx.ModCount())

	m, ok := f.ctx.ModAt(1)
	require.True(t, ok)
	assert.Equal(t, "extra", m.ID())
	_, ok = f.ctx.ModAt(5)
	assert.False(t, ok)

	_, ok = f.ctx.Mod("")
	assert.False(t, ok, "no current mod outside entry points")

	core, _ := f.reg.Mod("core")
	f.ctx.SetCurrentMod(core)
	m, ok = f.ctx.Mod("")
	require.True(t, ok)
	assert.Equal(t, "core", m.ID())

	f.ctx.SetCurrentMod(nil)
	_, ok = f.ctx.CurrentMod()
	assert.False(t, ok)
}

func TestRegisterInterface_Rules(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core", "extra")
	impl := struct{ Name string }{"renderer"}

	require.ErrorIs(t, f.ctx.RegisterInterface("core", "render", 1, impl), ErrNotInitializing, "not instantiated")
	core := f.instantiate(t, "core")

	require.ErrorIs(t, f.ctx.RegisterInterface("core", "", 1, impl), ErrInvalidArgument)
	require.ErrorIs(t, f.ctx.RegisterInterface("core", "render", 1, nil), ErrInvalidArgument)
	require.ErrorIs(t, f.ctx.RegisterInterface("ghost", "render", 1, impl), ErrUnknownMod)
	require.ErrorIs(t, f.ctx.RegisterInterface("", "render", 1, impl), ErrUnknownMod, "no current mod")

	require.NoError(t, f.ctx.RegisterInterface("core", "render", 1, impl))
	assert.True(t, core.HasFlags(modapi.FlagFixed))
	assert.True(t, f.ctx.HasInterface("core"))
	assert.False(t, f.ctx.HasFactory("core"))

	require.ErrorIs(t, f.ctx.RegisterInterface("core", "render", 1, impl), ErrDuplicate)
	require.NoError(t, f.ctx.RegisterInterface("core", "render", 2, impl))

	got, ok := f.ctx.Interface("core", "render", 1)
	require.True(t, ok)
	assert.Equal(t, impl, got)
	_, ok = f.ctx.Interface("", "render", 1)
	assert.False(t, ok, "empty owner is the builtin namespace")

	core.AddFlags(modapi.FlagInitialized)
	require.ErrorIs(t, f.ctx.RegisterInterface("core", "late", 1, impl), ErrNotInitializing)
}

func TestRegisterFactory_CurrentModOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core", "extra")
	extra := f.instantiate(t, "extra")
	factory := func() any { return 42 }

	f.ctx.SetCurrentMod(extra)
	require.NoError(t, f.ctx.RegisterFactory("", "answer", 1, factory))
	f.ctx.SetCurrentMod(nil)

	assert.True(t, f.ctx.HasFactory("extra"))
	assert.True(t, extra.HasFlags(modapi.FlagFixed))
	_, ok := f.ctx.Factory("extra", "answer", 1)
	assert.True(t, ok)
	assert.Equal(t, []InterfaceKey{{Owner: "extra", Name: "answer", Version: 1}}, f.ctx.Factories())

	f.ctx.Forget("extra")
	assert.False(t, f.ctx.HasFactory("extra"))
	assert.Empty(t, f.ctx.Factories())
}

func TestBuiltinRegistrations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core")
	f.instantiate(t, "core")
	require.NoError(t, f.ctx.RegisterBuiltinInterface("events", 1, f.ctx.Events()))
	require.ErrorIs(t, f.ctx.RegisterBuiltinInterface("events", 1, f.ctx.Events()), ErrDuplicate)
	require.NoError(t, f.ctx.RegisterBuiltinFactory("userdata", 1, func() *userdata.Box { return &userdata.Box{} }))
	require.NoError(t, f.ctx.RegisterInterface("core", "events", 1, "shadow"))

	got, ok := f.ctx.Interface("", "events", 1)
	require.True(t, ok)
	assert.Same(t, f.ctx.Events(), got)
	assert.Equal(t, []InterfaceKey{
		{Name: "events", Version: 1},
		{Owner: "core", Name: "events", Version: 1},
	}, f.ctx.Interfaces())
	assert.False(t, f.ctx.HasInterface(""), "builtins have no provider")
}

func TestInterfaceKey_Order(t *testing.T) {
	t.Parallel()

	a := InterfaceKey{Owner: "a", Name: "x", Version: 2}
	assert.Negative(t, InterfaceKey{Name: "z"}.Compare(a))
	assert.Negative(t, InterfaceKey{Owner: "a", Name: "x", Version: 1}.Compare(a))
	assert.Zero(t, a.Compare(a))
	assert.Equal(t, "a/x@2", a.String())
	assert.Equal(t, "z@0", InterfaceKey{Name: "z"}.String())
}

func TestLogger_FlagsAndSharing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core")
	core, _ := f.reg.Mod("core")

	l, err := f.ctx.Logger("")
	require.NoError(t, err)
	assert.Same(t, f.loggers.Default(), l)

	_, err = f.ctx.Logger("ghost")
	require.ErrorIs(t, err, ErrUnknownMod)

	first, err := f.ctx.Logger("core")
	require.NoError(t, err)
	assert.True(t, core.HasFlags(modapi.FlagLoggerRetrieved))

	f.ctx.SetCurrentMod(core)
	second, err := f.ctx.Logger("")
	f.ctx.SetCurrentMod(nil)
	require.NoError(t, err)
	assert.Same(t, first, second)

	held, ok := f.loggers.Lookup("core")
	require.True(t, ok)
	held.Release()
	_, ok = f.loggers.Lookup("core")
	assert.False(t, ok, "repeated lookups take no extra reference")
}

func TestConfig_FlagsAndDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core")
	core, _ := f.reg.Mod("core")

	own, err := f.ctx.Config("")
	require.NoError(t, err)
	own.Set("loader.verbose", true)
	loader, ok := f.configs.Lookup(logging.DefaultID)
	require.True(t, ok)
	assert.True(t, loader.GetBool("loader.verbose"))

	cfg, err := f.ctx.Config("core")
	require.NoError(t, err)
	cfg.Set("speed", 3)
	assert.True(t, core.HasFlags(modapi.FlagConfigRetrieved))

	again, err := f.ctx.Config("core")
	require.NoError(t, err)
	assert.Equal(t, 3, again.GetInt("speed"))

	_, err = f.ctx.Config("ghost")
	require.ErrorIs(t, err, ErrUnknownMod)
}

func TestCurrentMod_ClearedOnRemoval(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "core")
	core, _ := f.reg.Mod("core")
	f.ctx.SetCurrentMod(core)
	require.NoError(t, f.reg.RemoveMod("core"))

	_, ok := f.ctx.CurrentMod()
	assert.False(t, ok, "a removed mod is no longer current")
}
