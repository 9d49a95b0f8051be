// SPDX-License-Identifier: MPL-2.0

package balloon

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/internal/config"
	"github.com/balloon/balloon/internal/events"
	"github.com/balloon/balloon/internal/hook"
	"github.com/balloon/balloon/internal/issue"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/modctx"
	"github.com/balloon/balloon/internal/testutil"
	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/userdata"
)

type (
	journal struct{ calls []string }

	testMod struct {
		id        string
		builtin   bool
		depends   string
		j         *journal
		flags     modapi.Flags
		provide   bool
		useConfig bool
		initErr   error
		connErr   error
		panicIn   string
		greeting  string
	}

	env struct {
		t    *testing.T
		base afero.Fs
		libs *loader.StaticOpener
		logs *bytes.Buffer
		j    *journal
		b    *Balloon
	}
)

func (j *journal) add(s string) { j.calls = append(j.calls, s) }

func (j *journal) count(call string) int {
	n := 0
	for _, c := range j.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *testMod) enter(entry string) {
	m.j.add(m.id + "." + entry)
	if m.panicIn == entry {
		panic(m.id + " exploded")
	}
}

func (m *testMod) Init(ctx modapi.Context) (modapi.Flags, error) {
	m.enter("Init")
	if m.provide {
		if err := ctx.RegisterInterface("", "api", 1, m); err != nil {
			return 0, err
		}
	}
	if lg, err := ctx.Logger(""); err == nil {
		lg.Info("hello from " + m.id)
	}
	if m.useConfig {
		cfg, err := ctx.Config("")
		if err != nil {
			return 0, err
		}
		m.greeting = cfg.GetString("greeting")
		cfg.Set("visits", 1)
	}
	return m.flags, m.initErr
}

func (m *testMod) Shutdown() { m.enter("Shutdown") }

func (m *testMod) Connect() error {
	m.enter("Connect")
	return m.connErr
}

func (m *testMod) Disconnect() { m.enter("Disconnect") }

func (m *testMod) OnUpdate() { m.enter("OnUpdate") }

func (m *testMod) OnLateUpdate() { m.enter("OnLateUpdate") }

func newEnv(t *testing.T, mods ...*testMod) *env {
	t.Helper()
	e := &env{t: t, base: afero.NewMemMapFs(), libs: loader.NewStaticOpener(), logs: &bytes.Buffer{}, j: &journal{}}
	for _, m := range mods {
		e.addMod(m)
	}

	cfg := config.DefaultConfig()
	cfg.SearchRoots = []config.TreePath{"/mods", "/user/mods"}
	cfg.LogLevel = config.LogLevelDebug
	b, err := New(cfg, WithFileSystem(vfs.New(e.base)), WithLibraryOpener(e.libs), WithConsole(e.logs))
	require.NoError(t, err)
	e.b = b
	return e
}

func (e *env) addMod(m *testMod) {
	m.j = e.j
	var opts []testutil.ManifestOption
	if m.builtin {
		opts = append(opts, testutil.WithType("builtin"))
	}
	if m.depends != "" {
		opts = append(opts, testutil.DependsOn(m.depends, ">=1.0.0"))
	}
	root := "/mods/" + m.id
	testutil.WriteMod(e.t, e.base, root, testutil.Manifest(m.id, "1.0.0", opts...), m.id+".so")
	e.libs.RegisterEntry(root+"/bin/"+m.id+".so", modapi.Registration{
		ID:      m.id,
		Version: "1.0.0",
		Factory: func() modapi.Mod { return m },
	})
}

func (e *env) read(p string) string {
	e.t.Helper()
	data, err := afero.ReadFile(e.base, p)
	require.NoError(e.t, err)
	return string(data)
}

func coreAndExtra() (*testMod, *testMod) {
	core := &testMod{id: "core", builtin: true, provide: true, flags: modapi.FlagHasOnUpdate}
	extra := &testMod{id: "extra", depends: "core", flags: modapi.FlagHasOnLateUpdate}
	return core, extra
}

func TestLifecycle_HookDriven(t *testing.T) {
	t.Parallel()

	core, extra := coreAndExtra()
	e := newEnv(t, core, extra)
	b := e.b
	require.NoError(t, b.Init())
	assert.True(t, b.HasFlags(FlagInited|FlagLoggerInited))
	assert.NotZero(t, b.Session())

	var published []string
	for _, name := range []string{events.ModsLoaded, events.ModsInitialized, events.ModsConnected,
		events.ModsDisconnected, events.ModsShutdown, events.ModsUnloaded} {
		_, err := b.Events().AddListenerByName(name, func(ev modapi.Event) bool {
			published = append(published, ev.Name)
			return true
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Attach())
	require.NoError(t, b.Attach(), "attaching twice is a no-op")
	ctx := t.Context()

	require.NoError(t, b.Hooks().Fire(ctx, hook.EngineInit))
	assert.Equal(t, []string{"core", "extra"}, b.Registry().IDs())
	c, _ := b.Registry().Mod("core")
	assert.True(t, c.HasFlags(modapi.FlagFixed|modapi.FlagInitialized|modapi.FlagHasOnUpdate|modapi.FlagLoggerRetrieved))
	x, _ := b.Registry().Mod("extra")
	assert.False(t, x.HasFlags(modapi.FlagFixed))

	require.NoError(t, b.Hooks().Fire(ctx, hook.PostReset))
	assert.True(t, b.Loader().IsFrozen())
	assert.True(t, c.HasFlags(modapi.FlagConnected))

	require.NoError(t, b.Hooks().Fire(ctx, hook.PostProcess))
	require.NoError(t, b.Hooks().Fire(ctx, hook.PostProcess))
	require.NoError(t, b.Hooks().Fire(ctx, hook.PreClearAll))
	require.NoError(t, b.Hooks().Fire(ctx, hook.EngineEnd))

	assert.Equal(t, []string{
		"core.Init", "extra.Init",
		"core.Connect", "extra.Connect",
		"core.OnUpdate", "extra.OnLateUpdate",
		"core.OnUpdate", "extra.OnLateUpdate",
		"extra.Disconnect", "core.Disconnect",
		"extra.Shutdown", "core.Shutdown",
	}, e.j.calls)
	assert.Equal(t, []string{events.ModsLoaded, events.ModsInitialized, events.ModsConnected,
		events.ModsDisconnected, events.ModsShutdown, events.ModsUnloaded}, published)

	assert.Zero(t, b.Registry().Count())
	assert.False(t, b.Loader().IsFrozen(), "unloading revives the loader")
	assert.False(t, b.Loader().IsLoaded("core"))
	assert.False(t, b.Context().HasInterface("core"))
	assert.Empty(t, b.Loggers().IDs(), "mod loggers are released with their mods")
	assert.Equal(t, []string{"Balloon"}, b.Configs().IDs())
	assert.Equal(t, Flags(FlagInited|FlagLoggerInited), b.Flags())

	b.Shutdown()
	assert.Equal(t, Flags(0), b.Flags())
	assert.Contains(t, e.read("/logs/core.log"), "hello from core")
	assert.Contains(t, e.read("/logs/Balloon.log"), "Balloon session ended")
	assert.True(t, b.FileSystem().IsRegular("/configs/Balloon.json"))
}

func TestLifecycle_DirectCalls(t *testing.T) {
	t.Parallel()

	core, extra := coreAndExtra()
	e := newEnv(t, core, extra)
	b := e.b

	_, err := b.LoadMods()
	require.ErrorIs(t, err, ErrNotInited)
	require.NoError(t, b.Init())
	require.ErrorIs(t, b.InitMods(), ErrWrongPhase)
	require.ErrorIs(t, b.ConnectMods(), ErrWrongPhase)

	rep, err := b.LoadMods()
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "extra"}, rep.Loaded)
	_, err = b.LoadMods()
	require.ErrorIs(t, err, ErrWrongPhase)

	require.NoError(t, b.InitMods())
	require.NoError(t, b.InitMods(), "a second sweep is a no-op")
	require.NoError(t, b.ConnectMods())
	b.Process()

	b.Shutdown()
	assert.Equal(t, []string{
		"core.Init", "extra.Init",
		"core.Connect", "extra.Connect",
		"core.OnUpdate", "extra.OnLateUpdate",
		"extra.Disconnect", "core.Disconnect",
		"extra.Shutdown", "core.Shutdown",
	}, e.j.calls)
	assert.Zero(t, b.Registry().Count())
}

func TestInitMods_NonFixedFailureDropsMod(t *testing.T) {
	t.Parallel()

	core, extra := coreAndExtra()
	extra.initErr = errors.New("no assets")
	e := newEnv(t, core, extra)
	b := e.b
	require.NoError(t, b.Init())
	_, err := b.LoadMods()
	require.NoError(t, err)

	require.NoError(t, b.InitMods())
	assert.Equal(t, []string{"core"}, b.Registry().IDs())
	assert.False(t, b.Loader().IsLoaded("extra"))
	assert.Contains(t, e.logs.String(), "mod failed to initialize")

	require.NoError(t, b.ConnectMods())
	assert.NotContains(t, e.j.calls, "extra.Connect")
	assert.NotContains(t, e.j.calls, "extra.Shutdown", "a mod that failed Init is not shut down")
	b.Shutdown()
}

func TestInitMods_FixedFailureAborts(t *testing.T) {
	t.Parallel()

	core, extra := coreAndExtra()
	core.initErr = errors.New("half initialized")
	e := newEnv(t, core, extra)
	b := e.b
	require.NoError(t, b.Init())
	_, err := b.LoadMods()
	require.NoError(t, err)

	err = b.InitMods()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFixedModFailed)
	var ae *issue.ActionableError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, issue.FixedModFailedId, ae.Issue)
	assert.Equal(t, "core", ae.Resource)

	assert.Equal(t, []string{"core.Init"}, e.j.calls, "the sweep stops at the fixed mod")
	assert.False(t, b.HasFlags(FlagModsInited))
	assert.Contains(t, e.logs.String(), "fixed mod failed to initialize")

	b.Shutdown()
	assert.Zero(t, b.Registry().Count(), "shutdown unpins and removes the fixed mod")
}

func TestConnectMods_FailureRules(t *testing.T) {
	t.Parallel()

	t.Run("non-fixed mod is shut down and dropped", func(t *testing.T) {
		t.Parallel()

		core, extra := coreAndExtra()
		extra.connErr = errors.New("no server")
		e := newEnv(t, core, extra)
		b := e.b
		require.NoError(t, b.Init())
		_, err := b.LoadMods()
		require.NoError(t, err)
		require.NoError(t, b.InitMods())

		require.NoError(t, b.ConnectMods())
		assert.Equal(t, []string{"core"}, b.Registry().IDs())
		assert.Contains(t, e.j.calls, "extra.Shutdown")
		assert.True(t, b.Loader().IsFrozen())

		b.Process()
		assert.NotContains(t, e.j.calls, "extra.OnLateUpdate")
		b.Shutdown()
	})

	t.Run("fixed mod aborts", func(t *testing.T) {
		t.Parallel()

		core, extra := coreAndExtra()
		core.connErr = errors.New("no device")
		e := newEnv(t, core, extra)
		b := e.b
		require.NoError(t, b.Init())
		_, err := b.LoadMods()
		require.NoError(t, err)
		require.NoError(t, b.InitMods())

		err = b.ConnectMods()
		require.ErrorIs(t, err, ErrFixedModFailed)
		assert.Contains(t, e.logs.String(), "must be available all the time")
		assert.Equal(t, []string{"core.Init", "extra.Init", "core.Connect", "core.Shutdown"}, e.j.calls)
		assert.False(t, b.Loader().IsFrozen())
		assert.False(t, b.HasFlags(FlagModsConnected))
		b.Shutdown()
		assert.Zero(t, b.Registry().Count())
	})
}

func TestEntryPointPanicIsRecovered(t *testing.T) {
	t.Parallel()

	core, extra := coreAndExtra()
	extra.panicIn = "Init"
	core.panicIn = "OnUpdate"
	e := newEnv(t, core, extra)
	b := e.b
	require.NoError(t, b.Init())
	_, err := b.LoadMods()
	require.NoError(t, err)

	require.NoError(t, b.InitMods())
	assert.Equal(t, []string{"core"}, b.Registry().IDs())
	assert.Contains(t, e.logs.String(), "extra exploded")

	require.NoError(t, b.ConnectMods())
	b.Process()
	assert.Contains(t, e.logs.String(), "mod update failed")
	b.Process()
	assert.Equal(t, 1, e.j.count("core.OnUpdate"), "a panicking mod is not updated again")
	assert.Equal(t, []string{"core"}, b.Registry().IDs(), "the mod stays loaded")
	b.Shutdown()
}

func TestProcess_PanickingModStopsUpdating(t *testing.T) {
	t.Parallel()

	t.Run("late updater", func(t *testing.T) {
		t.Parallel()

		core, extra := coreAndExtra()
		extra.panicIn = "OnLateUpdate"
		e := newEnv(t, core, extra)
		b := e.b
		require.NoError(t, b.Init())
		_, err := b.LoadMods()
		require.NoError(t, err)
		require.NoError(t, b.InitMods())
		require.NoError(t, b.ConnectMods())

		for range 3 {
			b.Process()
		}
		assert.Equal(t, 3, e.j.count("core.OnUpdate"))
		assert.Equal(t, 1, e.j.count("extra.OnLateUpdate"))
		assert.Contains(t, e.logs.String(), "extra exploded")
		assert.Contains(t, e.logs.String(), "mod stops receiving updates")
		b.Shutdown()
		assert.Equal(t, 1, e.j.count("extra.Disconnect"), "a dropped updater is still torn down")
	})

	t.Run("panic in OnUpdate skips OnLateUpdate", func(t *testing.T) {
		t.Parallel()

		core, extra := coreAndExtra()
		core.flags |= modapi.FlagHasOnLateUpdate
		core.panicIn = "OnUpdate"
		e := newEnv(t, core, extra)
		b := e.b
		require.NoError(t, b.Init())
		_, err := b.LoadMods()
		require.NoError(t, err)
		require.NoError(t, b.InitMods())
		require.NoError(t, b.ConnectMods())

		b.Process()
		b.Process()
		assert.Equal(t, 1, e.j.count("core.OnUpdate"))
		assert.Zero(t, e.j.count("core.OnLateUpdate"))
		assert.Equal(t, 2, e.j.count("extra.OnLateUpdate"))
		b.Shutdown()
	})
}

func TestModConfigPersistence(t *testing.T) {
	t.Parallel()

	core, extra := coreAndExtra()
	core.useConfig = true
	extra.useConfig = true
	e := newEnv(t, core, extra)
	require.NoError(t, afero.WriteFile(e.base, "/configs/core.json", []byte(`{"greeting": "hello"}`), 0o644))
	require.NoError(t, afero.WriteFile(e.base, "/mods/extra/extra.json", []byte(`{"greeting": "bundled"}`), 0o644))

	b := e.b
	require.NoError(t, b.Init())
	_, err := b.LoadMods()
	require.NoError(t, err)
	require.NoError(t, b.InitMods())
	assert.Equal(t, "hello", core.greeting)
	assert.Equal(t, "bundled", extra.greeting, "the mod folder provides a fallback config")

	c, _ := b.Registry().Mod("core")
	assert.True(t, c.HasFlags(modapi.FlagConfigRetrieved))

	b.Shutdown()
	assert.JSONEq(t, `{"greeting": "hello", "visits": 1}`, e.read("/configs/core.json"))
	assert.JSONEq(t, `{"greeting": "bundled", "visits": 1}`, e.read("/configs/extra.json"))
}

func TestLoadMods_NoSearchRoots(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	require.NoError(t, e.b.Init())

	_, err := e.b.LoadMods()
	require.ErrorIs(t, err, loader.ErrNoSearchRoots)
	var ae *issue.ActionableError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, issue.NoSearchRootsId, ae.Issue)
	assert.Equal(t, "/mods, /user/mods", ae.Resource)
}

func TestBuiltinServices(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	b := e.b
	require.NoError(t, b.Init())

	fs, ok := b.Context().Interface("", InterfaceFS, BuiltinVersion)
	require.True(t, ok)
	assert.Same(t, b.FileSystem(), fs)
	hooks, ok := b.Context().Interface("", InterfaceHook, BuiltinVersion)
	require.True(t, ok)
	assert.Same(t, b.Hooks(), hooks)

	f, ok := b.Context().Factory("", FactoryUserData, BuiltinVersion)
	require.True(t, ok)
	box := f.(func() *userdata.Box)()
	userdata.Set(box, 7)
	assert.Equal(t, 1, box.Len())

	assert.Contains(t, b.Context().Interfaces(), modctx.InterfaceKey{Name: InterfaceEvents, Version: BuiltinVersion})

	b.Shutdown()
	require.NoError(t, b.Init(), "a new session reuses the built-ins")
	assert.Len(t, b.Context().Factories(), 2)
	b.Shutdown()
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.CacheDir = "cache"
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestFlagsString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", Flags(0).String())
	assert.Equal(t, "INITED|MODS_LOADED|LOGGER_INITED", (FlagInited | FlagModsLoaded | FlagLoggerInited).String())
}
