// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/balloon/balloon/internal/balloon"
	"github.com/balloon/balloon/internal/config"
	"github.com/balloon/balloon/internal/host"
	"github.com/balloon/balloon/internal/logging"
)

type runFlagValues struct {
	frames      uint64
	resetEvery  time.Duration
	watchConfig bool
}

// newRunCommand creates the `balloon run` command.
func newRunCommand(app *App, flags *rootFlagValues) *cobra.Command {
	runFlags := &runFlagValues{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mod session",
		Long: `Run a mod session.

The loader hooks itself into a stand-in engine loop: mods are loaded and
initialized on engine start, connected on every level reset and updated
once per frame until the frame budget is spent or the command is
interrupted. Changes to log_level in the config file apply live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), app, flags, runFlags)
		},
	}
	runCmd.Flags().Uint64Var(&runFlags.frames, "frames", 0, "stop after this many frames (0 runs until interrupted)")
	runCmd.Flags().DurationVar(&runFlags.resetEvery, "reset-every", 0, "reset the level periodically (0 disables)")
	runCmd.Flags().BoolVar(&runFlags.watchConfig, "watch-config", true, "apply config file changes while running")

	return runCmd
}

func runSession(ctx context.Context, app *App, flags *rootFlagValues, runFlags *runFlagValues) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}

	b, err := balloon.New(cfg, balloon.WithLibraryOpener(app.Libraries), balloon.WithConsole(app.stderr))
	if err != nil {
		return err
	}
	if err := b.Init(); err != nil {
		return err
	}
	defer b.Shutdown()
	if err := b.Attach(); err != nil {
		return err
	}

	engine := host.New(b.Hooks(),
		host.WithFrameInterval(cfg.FrameInterval),
		host.WithMaxFrames(runFlags.frames),
		host.WithLogger(b.Logger().Std()),
	)
	if err := engine.Start(ctx); err != nil {
		app.renderGuide(err)
		return err
	}

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	if runFlags.watchConfig {
		if path, ok := config.Locate(config.LoadOptions{ConfigFilePath: flags.configPath}); ok {
			go watchLogLevel(watchCtx, path, b, flags.logLevel != "")
		}
	}

	var resets <-chan time.Time
	if runFlags.resetEvery > 0 {
		ticker := time.NewTicker(runFlags.resetEvery)
		defer ticker.Stop()
		resets = ticker.C
	}

	frameErrs := engine.Err()
	for {
		select {
		case <-ctx.Done():
			engine.Stop()
			return reportSession(app, engine)
		case <-engine.Done():
			return reportSession(app, engine)
		case err, ok := <-frameErrs:
			if !ok {
				frameErrs = nil
				continue
			}
			b.Logger().Error("frame failed", "err", err)
		case <-resets:
			if err := engine.Reset(ctx); err != nil {
				b.Logger().Error("level reset failed", "err", err)
			}
		}
	}
}

// watchLogLevel applies log_level changes of the config file at path.
// A level pinned by --log-level is left alone.
func watchLogLevel(ctx context.Context, path string, b *balloon.Balloon, pinned bool) {
	err := config.Watch(ctx, path, func(cfg *config.Config, ev fsnotify.Event, err error) {
		if err != nil {
			b.Logger().Warn("config reload failed, keeping the previous settings", "file", ev.Name, "err", err)
			return
		}
		if pinned {
			return
		}
		level, err := logging.ParseLevel(cfg.LogLevel.String())
		if err != nil {
			return
		}
		if level != b.Loggers().Level() {
			b.Loggers().SetLevel(level)
			b.Logger().Info("log level changed", "level", cfg.LogLevel)
		}
	})
	if err != nil {
		b.Logger().Warn("config watcher stopped", "err", err)
	}
}

func reportSession(app *App, engine *host.Engine) error {
	err := engine.LastError()
	if err != nil {
		app.renderGuide(err)
		return err
	}
	fmt.Fprintf(app.stdout, "%s Session ended after %d frame(s) and %d reset(s)\n",
		SuccessStyle.Render("✓"), engine.Frames(), engine.Resets())
	return nil
}
