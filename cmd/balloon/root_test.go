// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-06-15T10:00:00Z"

		assert.Equal(t, "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)", getVersionString())
	})

	t.Run("fallback to dev when no build info", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		// Test binaries report Main.Version == "(devel)".
		Version = "dev"
		assert.Equal(t, "dev (built from source)", getVersionString())
	})
}

func TestNewRootCommand_Tree(t *testing.T) {
	t.Parallel()

	app, err := NewApp(Dependencies{})
	require.NoError(t, err)
	root := NewRootCommand(app)

	for _, path := range [][]string{
		{"config", "show"},
		{"config", "init"},
		{"config", "path"},
		{"mods", "list"},
		{"mods", "info"},
		{"mods", "validate"},
		{"mods", "watch"},
		{"run"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	for _, flag := range []string{"verbose", "config", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestLogLevelOverride(t *testing.T) {
	t.Parallel()

	e := newCLIEnv(t)
	require.NoError(t, e.run("config", "show", "--format", "cue", "--log-level", "trace"))
	assert.Contains(t, e.stdout.String(), `log_level: "trace"`)

	err := e.run("config", "show", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	e := newCLIEnv(t)
	e.cfg.SearchRoots = nil
	err := e.run("mods", "list")
	require.Error(t, err)

	formatted := formatErrorForDisplay(err, false)
	assert.Contains(t, formatted, "discover mods")
	assert.Contains(t, formatted, "balloon config show")
}
