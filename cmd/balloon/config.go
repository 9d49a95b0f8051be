// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balloon/balloon/internal/config"
)

const (
	formatText = "text"
	formatCUE  = config.ConfigFileExt
	formatTOML = config.TOMLFileExt
)

// newConfigCommand creates the `balloon config` command tree.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage balloon configuration",
		Long: `Manage balloon configuration.

Configuration is stored in config.cue (or config.toml) in:
  - Linux: ~/.config/balloon
  - macOS: ~/Library/Application Support/balloon
  - Windows: %APPDATA%\balloon

Every key can be overridden with a BALLOON_<KEY> environment variable,
e.g. BALLOON_LOG_LEVEL=debug.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var showFormat string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, flags, showFormat)
		},
	}
	showCmd.Flags().StringVar(&showFormat, "format", formatText, "output format (text, cue, toml)")
	cfgCmd.AddCommand(showCmd)

	var initFormat string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app, initFormat)
		},
	}
	initCmd.Flags().StringVar(&initFormat, "format", formatCUE, "file format (cue, toml)")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app, flags)
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, flags *rootFlagValues, format string) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}

	switch format {
	case formatCUE:
		fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
		return nil
	case formatTOML:
		out, err := config.GenerateTOML(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(app.stdout, out)
		return nil
	case formatText:
	default:
		return fmt.Errorf("unknown format %q (valid: text, cue, toml)", format)
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	w := app.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if p, ok := config.Locate(config.LoadOptions{ConfigFilePath: flags.configPath}); ok {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), p)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	loader := cfg.LoaderDir.String()
	if loader == "" {
		loader = SubtitleStyle.Render("(working directory)")
	} else {
		loader = valueStyle.Render(loader)
	}
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("loader_dir"), loader)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("search_roots"))
	for _, r := range cfg.SearchRoots {
		fmt.Fprintf(w, "  - %s\n", valueStyle.Render(r.String()))
	}
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("disabled_mods"))
	if len(cfg.DisabledMods) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none)"))
	}
	for _, id := range cfg.DisabledMods {
		fmt.Fprintf(w, "  - %s\n", valueStyle.Render(id))
	}
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("cache_dir"), valueStyle.Render(cfg.CacheDir.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("log_dir"), valueStyle.Render(cfg.LogDir.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("config_dir"), valueStyle.Render(cfg.ModConfigDir.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("log_level"), valueStyle.Render(cfg.LogLevel.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("archive_extensions"), valueStyle.Render(strings.Join(cfg.ArchiveExtensions, ", ")))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("frame_interval"), valueStyle.Render(cfg.FrameInterval.String()))

	return nil
}

func initConfig(app *App, format string) error {
	var (
		path string
		err  error
	)
	switch format {
	case formatCUE:
		path, err = config.CreateDefaultConfig()
	case formatTOML:
		path, err = createDefaultTOML()
	default:
		return fmt.Errorf("unknown format %q (valid: cue, toml)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

// createDefaultTOML writes the defaults as config.toml unless a config
// file already exists.
func createDefaultTOML() (string, error) {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	for _, ext := range []string{config.ConfigFileExt, config.TOMLFileExt} {
		if p := filepath.Join(cfgDir, config.ConfigFileName+"."+ext); fileExistsCheck(p) {
			return p, nil
		}
	}
	return config.Save(config.DefaultConfig(), config.TOMLFileExt)
}

func showConfigPath(app *App, flags *rootFlagValues) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	if p, ok := config.Locate(config.LoadOptions{ConfigFilePath: flags.configPath}); ok {
		fmt.Fprintf(app.stdout, "Config file: %s\n", p)
	} else {
		fmt.Fprintf(app.stdout, "Config file: %s %s\n",
			filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt),
			SubtitleStyle.Render("(not created yet)"))
	}
	return nil
}

// fileExistsCheck checks if a file exists and is not a directory.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
