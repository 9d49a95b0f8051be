// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/balloon/balloon/internal/issue"
	"github.com/balloon/balloon/pkg/cueutil"
	"github.com/balloon/balloon/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "balloon"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// TOMLFileExt is the extension of the alternative TOML config file.
	TOMLFileExt = "toml"
	// EnvPrefix prefixes every environment override, e.g. BALLOON_LOG_LEVEL.
	EnvPrefix = "BALLOON"
	// ConfigHomeEnv relocates the directory holding the balloon config
	// file, e.g. for a portable install next to the game. It is not a
	// config key: BALLOON_CONFIG_DIR already sets config_dir.
	ConfigHomeEnv = EnvPrefix + "_CONFIG_HOME"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the balloon configuration directory. $BALLOON_CONFIG_HOME
// wins when set. Otherwise Windows uses %APPDATA%, macOS uses
// ~/Library/Application Support and everything else $XDG_CONFIG_HOME
// (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigHomeEnv); dir != "" {
		return filepath.Abs(dir)
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// newViper returns a viper instance holding the defaults and wired to the
// BALLOON_ environment.
func newViper() *viper.Viper {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("loader_dir", defaults.LoaderDir.String())
	v.SetDefault("search_roots", defaults.Roots())
	v.SetDefault("disabled_mods", defaults.DisabledMods)
	v.SetDefault("cache_dir", defaults.CacheDir.String())
	v.SetDefault("log_dir", defaults.LogDir.String())
	v.SetDefault("config_dir", defaults.ModConfigDir.String())
	v.SetDefault("log_level", defaults.LogLevel.String())
	v.SetDefault("archive_extensions", defaults.ArchiveExtensions)
	v.SetDefault("frame_interval", defaults.FrameInterval.String())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadWithOptions performs option-driven config loading without mutating
// package-level cache state. It returns the file that was read, or "" when
// only defaults and environment applied.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper()

	resolvedPath, err := locate(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadFileIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE or TOML syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'balloon config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Tree paths such as search_roots and cache_dir must start with '/'").
			WithSuggestion("Check BALLOON_* environment variables for stray values").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// locate picks the config file for opts. An explicit path must exist;
// otherwise the config directory and then the working directory are tried,
// CUE before TOML. No file at all is not an error.
func locate(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'balloon config init' to create one").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	for _, dir := range []string{cfgDir, "."} {
		for _, ext := range []string{ConfigFileExt, TOMLFileExt} {
			p := filepath.Join(dir, ConfigFileName+"."+ext)
			if fileExists(p) {
				return p, nil
			}
		}
	}
	return "", nil
}

// Locate reports which config file Load would read for opts.
func Locate(opts LoadOptions) (string, bool) {
	p, err := locate(opts)
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadFileIntoViper validates a CUE or TOML config file against the #Config
// schema and merges its contents into Viper.
//
// Config decodes to map[string]any rather than a struct so that Viper keeps
// its defaults and environment overrides for fields the file leaves out.
func loadFileIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	var userValue cue.Value
	if strings.EqualFold(filepath.Ext(path), "."+TOMLFileExt) {
		var raw map[string]any
		if err := toml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		userValue = ctx.Encode(raw)
	} else {
		userValue = ctx.CompileBytes(data, cue.Filename(path))
	}
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig creates a default config file if it doesn't exist and
// returns its path.
func CreateDefaultConfig() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// Save writes cfg to the config directory, as TOML when format is "toml"
// and as CUE otherwise.
func Save(cfg *Config, format string) (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	ext, content := ConfigFileExt, GenerateCUE(cfg)
	if format == TOMLFileExt {
		out, err := GenerateTOML(cfg)
		if err != nil {
			return "", err
		}
		ext, content = TOMLFileExt, out
	}
	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ext)

	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// Balloon Configuration File\n")
	sb.WriteString("// Paths other than loader_dir are inside the loader directory.\n\n")

	if cfg.LoaderDir != "" {
		fmt.Fprintf(&sb, "loader_dir: %q\n", cfg.LoaderDir)
	}

	sb.WriteString("search_roots: [\n")
	for _, root := range cfg.SearchRoots {
		fmt.Fprintf(&sb, "\t%q,\n", root)
	}
	sb.WriteString("]\n")

	if len(cfg.DisabledMods) > 0 {
		sb.WriteString("disabled_mods: [\n")
		for _, id := range cfg.DisabledMods {
			fmt.Fprintf(&sb, "\t%q,\n", id)
		}
		sb.WriteString("]\n")
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "cache_dir: %q\n", cfg.CacheDir)
	fmt.Fprintf(&sb, "log_dir: %q\n", cfg.LogDir)
	fmt.Fprintf(&sb, "config_dir: %q\n", cfg.ModConfigDir)

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)

	sb.WriteString("archive_extensions: [")
	for i, ext := range cfg.ArchiveExtensions {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", ext)
	}
	sb.WriteString("]\n")

	fmt.Fprintf(&sb, "frame_interval: %q\n", cfg.FrameInterval.String())

	return sb.String()
}

// fileView is the on-disk shape of Config, with the frame interval kept as
// a duration string.
type fileView struct {
	LoaderDir         string   `toml:"loader_dir,omitempty"`
	SearchRoots       []string `toml:"search_roots"`
	DisabledMods      []string `toml:"disabled_mods"`
	CacheDir          string   `toml:"cache_dir"`
	LogDir            string   `toml:"log_dir"`
	ConfigDir         string   `toml:"config_dir"`
	LogLevel          string   `toml:"log_level"`
	ArchiveExtensions []string `toml:"archive_extensions"`
	FrameInterval     string   `toml:"frame_interval"`
}

// GenerateTOML renders cfg as TOML.
func GenerateTOML(cfg *Config) (string, error) {
	view := fileView{
		LoaderDir:         cfg.LoaderDir.String(),
		SearchRoots:       cfg.Roots(),
		DisabledMods:      cfg.DisabledMods,
		CacheDir:          cfg.CacheDir.String(),
		LogDir:            cfg.LogDir.String(),
		ConfigDir:         cfg.ModConfigDir.String(),
		LogLevel:          cfg.LogLevel.String(),
		ArchiveExtensions: cfg.ArchiveExtensions,
		FrameInterval:     cfg.FrameInterval.String(),
	}
	if view.DisabledMods == nil {
		view.DisabledMods = []string{}
	}
	out, err := toml.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("failed to render config as TOML: %w", err)
	}
	return string(out), nil
}
