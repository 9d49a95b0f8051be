// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/balloon/balloon/internal/config"
	"github.com/balloon/balloon/internal/issue"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/vfs"
)

type (
	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives an App and reaches configuration and mod libraries through it.
	App struct {
		Config    ConfigProvider
		Libraries loader.LibraryOpener
		stdout    io.Writer
		stderr    io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    ConfigProvider
		Libraries loader.LibraryOpener
		Stdout    io.Writer
		Stderr    io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// rootFlagValues holds the persistent flags of the root command.
	rootFlagValues struct {
		verbose    bool
		configPath string
		logLevel   string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Libraries == nil {
		deps.Libraries = loader.PluginOpener{}
	}

	return &App{
		Config:    deps.Config,
		Libraries: deps.Libraries,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}, nil
}

// loadConfig loads the configuration selected by --config and applies the
// --log-level override.
func (a *App) loadConfig(ctx context.Context, flags *rootFlagValues) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		a.renderGuide(err)
		return nil, err
	}
	if flags.logLevel != "" {
		level := config.LogLevel(flags.logLevel)
		if valid, errs := level.IsValid(); !valid {
			return nil, fmt.Errorf("--log-level: %w", errors.Join(errs...))
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

// fileSystem returns the loader tree rooted at the configured loader dir.
func (a *App) fileSystem(cfg *config.Config) *vfs.FileSystem {
	return vfs.NewOS(loaderDir(cfg), vfs.WithArchiveExtensions(cfg.ArchiveExtensions...))
}

// renderGuide prints the troubleshooting guide attached to err, if any.
func (a *App) renderGuide(err error) {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		return
	}
	guide, ok := ae.Guide()
	if !ok {
		return
	}
	rendered, renderErr := guide.Render("dark")
	if renderErr != nil {
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// loaderDir returns the host directory mounted as the loader tree root.
func loaderDir(cfg *config.Config) string {
	if cfg.LoaderDir == "" {
		return "."
	}
	return string(cfg.LoaderDir)
}

// formatErrorForDisplay formats an error for user display. An
// ActionableError renders its operation, resource and suggestions; in
// verbose mode the full chain is shown.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
