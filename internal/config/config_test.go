// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/internal/issue"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	valid, errs := cfg.IsValid()
	require.True(t, valid, "%v", errs)
	assert.Equal(t, []string{"/game/Mods", "/mods", "/user/mods"}, cfg.Roots())
	assert.Equal(t, TreePath("/cache"), cfg.CacheDir)
	assert.Equal(t, TreePath("/configs"), cfg.ModConfigDir)
	assert.Equal(t, LogLevelInfo, cfg.LogLevel)
	assert.Equal(t, DefaultFrameInterval, cfg.FrameInterval)
}

func TestConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG lookup is linux-only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/tmp/test-xdg-config")
	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/test-xdg-config", AppName), dir)

	t.Setenv(ConfigHomeEnv, "/portable/balloon")
	dir, err = ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/portable/balloon", dir)

	t.Setenv(ConfigHomeEnv, "relative")
	dir, err = ConfigDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir), "relative overrides are made absolute")
}

func TestLoad_DefaultsWhenNoConfigFile(t *testing.T) {
	t.Parallel()

	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Roots(), cfg.Roots())
	assert.Equal(t, DefaultFrameInterval, cfg.FrameInterval)
}

func TestLoad_CUEFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "config.cue", `
// trimmed for tests
search_roots: ["/mods"]
disabled_mods: ["broken"]
log_level: "debug"
frame_interval: "5ms"
`)

	cfg, path, err := loadWithOptions(t.Context(), LoadOptions{ConfigDirPath: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.cue"), path)
	assert.Equal(t, []string{"/mods"}, cfg.Roots())
	assert.Equal(t, []string{"broken"}, cfg.DisabledMods)
	assert.Equal(t, LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, 5*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, TreePath("/cache"), cfg.CacheDir, "unset fields keep their defaults")
}

func TestLoad_TOMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
loader_dir = "/opt/game"
archive_extensions = ["zip", "pak"]
log_level = "warn"
`)

	cfg, path, err := loadWithOptions(t.Context(), LoadOptions{ConfigDirPath: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), path)
	assert.Equal(t, HostDirPath("/opt/game"), cfg.LoaderDir)
	assert.Equal(t, []string{"zip", "pak"}, cfg.ArchiveExtensions)
	assert.Equal(t, LogLevelWarn, cfg.LogLevel)
}

func TestLoad_CUEPreferredOverTOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "config.cue", `log_level: "error"`)
	writeFile(t, dir, "config.toml", `log_level = "warn"`)

	p, ok := Locate(LoadOptions{ConfigDirPath: dir})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "config.cue"), p)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.cue", `log_level: "debug"`)
	t.Setenv("BALLOON_LOG_LEVEL", "error")
	t.Setenv("BALLOON_SEARCH_ROOTS", "/a,/b")

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	require.NoError(t, err)
	assert.Equal(t, LogLevelError, cfg.LogLevel)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Roots())
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("BALLOON_CACHE_DIR", "cache")

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorIs(t, err, ErrInvalidTreePath)
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown field":    `bogus: 1`,
		"relative root":    `search_roots: ["mods"]`,
		"bad level":        `log_level: "loud"`,
		"bad duration":     `frame_interval: "soon"`,
		"empty disabled":   `disabled_mods: [""]`,
		"syntax error":     `log_level: `,
		"dotted extension": `archive_extensions: [".zip"]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, t.TempDir(), "config.cue", content)

			_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
			require.Error(t, err)

			var ae *issue.ActionableError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, issue.ConfigLoadFailedId, ae.Issue)
			assert.Equal(t, path, ae.Resource)
		})
	}
}

func TestLoad_CustomPath_NotFound(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: missing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	var ae *issue.ActionableError
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.HasSuggestions())
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoad_BlankOptions(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: "  "})
	require.ErrorIs(t, err, ErrInvalidLoadOptions)
}

func customConfig() *Config {
	cfg := DefaultConfig()
	cfg.LoaderDir = "/opt/game"
	cfg.SearchRoots = []TreePath{"/mods", "/user/mods"}
	cfg.DisabledMods = []string{"a", "b"}
	cfg.LogLevel = LogLevelTrace
	cfg.ArchiveExtensions = []string{"zip", "pak"}
	cfg.FrameInterval = 250 * time.Millisecond
	return cfg
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	want := customConfig()
	path := writeFile(t, t.TempDir(), "config.cue", GenerateCUE(want))

	got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenerateTOML_RoundTrip(t *testing.T) {
	t.Parallel()

	want := customConfig()
	out, err := GenerateTOML(want)
	require.NoError(t, err)
	assert.Contains(t, out, "250ms")
	path := writeFile(t, t.TempDir(), "config.toml", out)

	got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCreateDefaultConfigAndSave(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigHomeEnv, dir)

	path, err := CreateDefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.cue"), path)
	require.NoError(t, os.WriteFile(path, []byte(`log_level: "warn"`), 0o644))

	again, err := CreateDefaultConfig()
	require.NoError(t, err)
	data, err := os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, `log_level: "warn"`, string(data), "an existing file is kept")

	tomlPath, err := Save(customConfig(), TOMLFileExt)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), tomlPath)

	cuePath, err := Save(customConfig(), ConfigFileExt)
	require.NoError(t, err)
	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: cuePath})
	require.NoError(t, err)
	assert.Equal(t, customConfig(), cfg)
}

// TestConfigSchemaSync keeps the json tags of Config and the fields of the
// #Config schema aligned; a drift silently drops settings.
func TestConfigSchemaSync(t *testing.T) {
	t.Parallel()

	schema := cuecontext.New().CompileString(configSchema)
	require.NoError(t, schema.Err())
	def := schema.LookupPath(cue.ParsePath("#Config"))
	require.NoError(t, def.Err())

	cueFields := make(map[string]bool)
	it, err := def.Fields(cue.Optional(true))
	require.NoError(t, err)
	for it.Next() {
		cueFields[strings.TrimSuffix(it.Selector().String(), "?")] = true
	}

	goFields := make(map[string]bool)
	typ := reflect.TypeFor[Config]()
	for i := range typ.NumField() {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			goFields[name] = true
		}
	}

	assert.Equal(t, cueFields, goFields)
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "config.cue", `log_level: 3`)
	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})

	var ae *issue.ActionableError
	require.True(t, errors.As(err, &ae))
	formatted := ae.Format(false)
	assert.Contains(t, formatted, "failed to load configuration")
	assert.Contains(t, formatted, "• Check that the file contains valid CUE or TOML syntax")
}
