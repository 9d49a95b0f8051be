// SPDX-License-Identifier: MPL-2.0

package balloon

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/balloon/balloon/internal/events"
	"github.com/balloon/balloon/internal/issue"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/registry"
	"github.com/balloon/balloon/pkg/modapi"
)

// LoadMods loads every mod found under the configured search roots that
// exist. Per-mod failures are in the report; the call fails only when no
// root exists or the loader refuses to run.
func (b *Balloon) LoadMods() (*loader.Report, error) {
	if !b.HasFlags(FlagInited) {
		return nil, ErrNotInited
	}
	if b.HasFlags(FlagModsLoaded) {
		return nil, fmt.Errorf("load mods: %w", ErrWrongPhase)
	}

	roots := slices.DeleteFunc(b.cfg.Roots(), func(r string) bool { return !b.fs.IsDir(r) })
	if len(roots) == 0 {
		return nil, issue.NewErrorContext().
			WithOperation("load mods").
			WithResource(strings.Join(b.cfg.Roots(), ", ")).
			WithSuggestion("Create one of the search roots inside the loader directory").
			WithSuggestion("Set search_roots in the config file or BALLOON_SEARCH_ROOTS").
			WithIssue(issue.NoSearchRootsId).
			Wrap(loader.ErrNoSearchRoots).
			BuildError()
	}

	rep, err := b.loader.Load(roots)
	if err != nil {
		return nil, err
	}
	b.addFlags(FlagModsLoaded)
	b.logger.Info("mods loaded", "count", len(rep.Loaded), "failed", len(rep.Failed))
	b.events.SendByName(events.ModsLoaded, rep.Loaded)
	return rep, nil
}

// UnloadMods revives the loader and removes every mod in reverse load
// order. Mods must be shut down first; FIXED mods refuse removal.
func (b *Balloon) UnloadMods() {
	if !b.HasFlags(FlagModsLoaded) {
		return
	}
	b.loader.Revive()
	ids := b.registry.IDs()
	slices.Reverse(ids)
	for _, id := range ids {
		if err := b.registry.RemoveMod(id); err != nil {
			b.logger.Error("failed to remove mod", "mod", id, "err", err)
		}
	}
	b.clearFlags(FlagModsLoaded)
	b.events.SendByName(events.ModsUnloaded, ids)
}

// InitMods instantiates and initializes the loaded mods in load order. A
// mod that fails is destroyed and removed, unless it is FIXED: then the
// sweep stops and InitMods fails.
func (b *Balloon) InitMods() error {
	if !b.HasFlags(FlagModsLoaded) {
		return fmt.Errorf("init mods: %w", ErrWrongPhase)
	}
	if b.HasFlags(FlagModsInited) {
		return nil
	}

	var (
		failed *registry.Container
		cause  error
	)
	ok := b.registry.IterateMods(func(c *registry.Container) registry.Instruction {
		inst, err := c.Instantiate()
		if err != nil {
			b.logger.Fatal("failed to instantiate mod", "mod", c.ID(), "err", err)
			failed, cause = c, err
			return registry.Abort
		}
		b.acquireResources(c)

		var declared modapi.Flags
		err = b.invoke(c, "Init", func() error {
			f, err := inst.Init(b.ctx)
			declared = f
			return err
		})
		if err != nil {
			if c.HasFlags(modapi.FlagFixed) {
				b.logger.Fatal("fixed mod failed to initialize", "mod", c.ID(), "err", err)
				failed, cause = c, err
				return registry.Abort
			}
			b.logger.Error("mod failed to initialize", "mod", c.ID(), "err", err)
			c.DestroyInstance()
			return registry.Remove
		}
		c.AddFlags(declared&modapi.DeclarableFlags | modapi.FlagInitialized)
		b.logger.Debug("mod initialized", "mod", c.ID(), "flags", c.Flags())
		return registry.Continue
	}, false)
	if !ok {
		return b.sweepError("initialize mods", failed, cause)
	}

	b.addFlags(FlagModsInited)
	b.events.SendByName(events.ModsInitialized, b.registry.IDs())
	return nil
}

// ShutdownMods shuts the initialized mods down in reverse load order and
// destroys their instances. Connected mods are disconnected first.
func (b *Balloon) ShutdownMods() {
	if !b.HasFlags(FlagModsLoaded) {
		return
	}
	b.DisconnectMods()

	b.registry.IterateMods(func(c *registry.Container) registry.Instruction {
		if c.Instance() == nil {
			return registry.Continue
		}
		if c.HasFlags(modapi.FlagInitialized) {
			if c.HasFlags(modapi.FlagConfigRetrieved) {
				b.saveModConfig(c)
			}
			if err := b.invoke(c, "Shutdown", func() error { c.Instance().Shutdown(); return nil }); err != nil {
				b.logger.Error("mod failed to shut down", "mod", c.ID(), "err", err)
			}
		}
		c.DestroyInstance()
		c.ClearFlags(modapi.FlagFixed | modapi.FlagInitialized)
		return registry.Continue
	}, true)

	if b.HasFlags(FlagModsInited) {
		b.clearFlags(FlagModsInited)
		b.events.SendByName(events.ModsShutdown, b.registry.IDs())
	}
}

// ConnectMods connects the initialized mods in load order and collects
// the update lists. A mod that fails is shut down and removed unless it
// is FIXED, which aborts the sweep. The loader is frozen afterwards.
func (b *Balloon) ConnectMods() error {
	if !b.HasFlags(FlagModsInited) {
		return fmt.Errorf("connect mods: %w", ErrWrongPhase)
	}
	if b.HasFlags(FlagModsConnected) {
		return nil
	}

	var (
		failed *registry.Container
		cause  error
	)
	ok := b.registry.IterateMods(func(c *registry.Container) registry.Instruction {
		inst := c.Instance()
		if inst == nil {
			return registry.Remove
		}
		if err := b.invoke(c, "Connect", inst.Connect); err != nil {
			if serr := b.invoke(c, "Shutdown", func() error { inst.Shutdown(); return nil }); serr != nil {
				b.logger.Error("mod failed to shut down", "mod", c.ID(), "err", serr)
			}
			c.ClearFlags(modapi.FlagInitialized)
			if c.HasFlags(modapi.FlagFixed) {
				b.logger.Fatal("A mod that provides interfaces must be available all the time.", "mod", c.ID(), "err", err)
				failed, cause = c, err
				return registry.Abort
			}
			b.logger.Error("mod failed to connect", "mod", c.ID(), "err", err)
			c.DestroyInstance()
			return registry.Remove
		}

		c.AddFlags(modapi.FlagConnected)
		if _, ok := inst.(modapi.Updater); ok && c.HasFlags(modapi.FlagHasOnUpdate) {
			b.updaters = append(b.updaters, c)
		}
		if _, ok := inst.(modapi.LateUpdater); ok && c.HasFlags(modapi.FlagHasOnLateUpdate) {
			b.lateUpdaters = append(b.lateUpdaters, c)
		}
		return registry.Continue
	}, false)
	if !ok {
		return b.sweepError("connect mods", failed, cause)
	}

	b.loader.Freeze()
	b.addFlags(FlagModsConnected)
	b.events.SendByName(events.ModsConnected, b.registry.IDs())
	return nil
}

// DisconnectMods disconnects the connected mods in reverse load order.
func (b *Balloon) DisconnectMods() {
	if !b.HasFlags(FlagModsConnected) {
		return
	}
	b.registry.IterateMods(func(c *registry.Container) registry.Instruction {
		if !c.HasFlags(modapi.FlagConnected) {
			return registry.Continue
		}
		b.dropUpdater(c)
		if err := b.invoke(c, "Disconnect", func() error { c.Instance().Disconnect(); return nil }); err != nil {
			b.logger.Error("mod failed to disconnect", "mod", c.ID(), "err", err)
		}
		c.ClearFlags(modapi.FlagConnected)
		return registry.Continue
	}, true)

	b.updaters, b.lateUpdaters = nil, nil
	b.clearFlags(FlagModsConnected)
	b.events.SendByName(events.ModsDisconnected, b.registry.IDs())
}

// Process runs one frame: OnUpdate of every updater, then OnLateUpdate of
// every late updater, both in load order. A mod that panics is logged and
// receives no further updates; the frame continues with the next mod.
func (b *Balloon) Process() {
	for _, c := range slices.Clone(b.updaters) {
		if u, ok := c.Instance().(modapi.Updater); ok {
			b.update(c, "OnUpdate", u.OnUpdate)
		}
	}
	for _, c := range slices.Clone(b.lateUpdaters) {
		if !slices.Contains(b.lateUpdaters, c) {
			continue
		}
		if u, ok := c.Instance().(modapi.LateUpdater); ok {
			b.update(c, "OnLateUpdate", u.OnLateUpdate)
		}
	}
}

func (b *Balloon) update(c *registry.Container, entry string, fn func()) {
	err := b.invoke(c, entry, func() error { fn(); return nil })
	if err == nil {
		return
	}
	b.logger.Error("mod update failed", "mod", c.ID(), "entry", entry, "err", err)
	var pe *PanicError
	if errors.As(err, &pe) {
		b.logger.Warn("mod stops receiving updates", "mod", pe.Mod)
		b.dropUpdater(c)
	}
}

// invoke runs a mod entry point with the current mod set, turning a panic
// into a PanicError.
func (b *Balloon) invoke(c *registry.Container, entry string, fn func() error) (err error) {
	b.ctx.SetCurrentMod(c)
	defer b.ctx.SetCurrentMod(nil)
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Mod: c.ID(), Entry: entry, Value: r}
		}
	}()
	return fn()
}

// sweepError reports an aborted lifecycle sweep.
func (b *Balloon) sweepError(op string, failed *registry.Container, cause error) error {
	id := issue.ModInitFailedId
	resource := ""
	if failed != nil {
		resource = failed.ID()
		if failed.HasFlags(modapi.FlagFixed) {
			id = issue.FixedModFailedId
			cause = fmt.Errorf("%w: %w", ErrFixedModFailed, cause)
		}
	}
	return issue.NewErrorContext().
		WithOperation(op).
		WithResource(resource).
		WithSuggestion("Check the mod log in " + b.cfg.LogDir.String()).
		WithSuggestion("Disable the mod with disabled_mods if it is not needed").
		WithIssue(id).
		Wrap(cause).
		BuildError()
}

func (b *Balloon) dropUpdater(c *registry.Container) {
	match := func(x *registry.Container) bool { return x == c }
	b.updaters = slices.DeleteFunc(b.updaters, match)
	b.lateUpdaters = slices.DeleteFunc(b.lateUpdaters, match)
}

// guardFixed vetoes the removal of FIXED mods.
func (b *Balloon) guardFixed(c *registry.Container) error {
	if c.HasFlags(modapi.FlagFixed) {
		return fmt.Errorf("%s: %w", c.ID(), ErrModRemovalVetoed)
	}
	return nil
}

// forget runs after a mod left the registry: the loader drops its library,
// the context its registrations and the stores the mod's logger and config.
func (b *Balloon) forget(c *registry.Container) error {
	b.dropUpdater(c)
	if err := b.loader.Unload(c.ID()); err != nil && !errors.Is(err, loader.ErrNotLoaded) {
		b.logger.Warn("failed to unload mod library", "mod", c.ID(), "err", err)
	}
	b.ctx.Forget(c.ID())
	b.releaseResources(c)
	return nil
}

// acquireResources takes the orchestrator's references on the mod logger
// and config, attaches the log file and reads the config file.
func (b *Balloon) acquireResources(c *registry.Container) {
	if _, ok := b.resources[c.ID()]; ok {
		return
	}
	res := &modResources{logger: b.loggers.Get(c.ID())}
	if f, err := b.fs.OpenAppend(path.Join(b.cfg.LogDir.String(), c.ID()+logFileExtension)); err != nil {
		b.logger.Warn("mod log file unavailable", "mod", c.ID(), "err", err)
	} else {
		res.logger.AddSink(f)
	}

	cfg, err := b.configs.Get(c.ID())
	if err != nil {
		b.logger.Error("mod config unavailable", "mod", c.ID(), "err", err)
	} else {
		res.config = cfg
		src := b.configPath(c.ID())
		if !b.fs.IsRegular(src) {
			src = path.Join(c.RootPath(), c.ID()+cfgFileExtension)
		}
		if err := b.readConfig(cfg, src); err != nil {
			b.logger.Warn("failed to read mod config", "mod", c.ID(), "err", err)
		}
	}
	b.resources[c.ID()] = res
}

// releaseResources drops the orchestrator's references, and the ones the
// context took when the mod retrieved its logger or config.
func (b *Balloon) releaseResources(c *registry.Container) {
	res, ok := b.resources[c.ID()]
	if !ok {
		return
	}
	delete(b.resources, c.ID())
	if c.HasFlags(modapi.FlagLoggerRetrieved) {
		res.logger.Release()
	}
	res.logger.Release()
	if res.config != nil {
		if c.HasFlags(modapi.FlagConfigRetrieved) {
			res.config.Release()
		}
		res.config.Release()
	}
	c.ClearFlags(modapi.FlagLoggerRetrieved | modapi.FlagConfigRetrieved)
}

func (b *Balloon) saveModConfig(c *registry.Container) {
	res, ok := b.resources[c.ID()]
	if !ok || res.config == nil {
		return
	}
	if err := b.writeConfig(res.config, b.configPath(c.ID())); err != nil {
		b.logger.Error("failed to save mod config", "mod", c.ID(), "err", err)
	}
}

// configReader is the part of modconfig.Config used for persistence.
type configReader interface {
	Read(data []byte) error
	Write() ([]byte, error)
}

func (b *Balloon) readConfig(cfg configReader, p string) error {
	data, err := b.fs.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return cfg.Read(data)
}

func (b *Balloon) writeConfig(cfg configReader, p string) error {
	data, err := cfg.Write()
	if err != nil {
		return err
	}
	return b.fs.WriteFile(p, data)
}
