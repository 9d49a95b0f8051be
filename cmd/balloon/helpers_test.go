// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/internal/config"
	"github.com/balloon/balloon/internal/loader"
	"github.com/balloon/balloon/internal/testutil"
	"github.com/balloon/balloon/pkg/modapi"
)

type (
	staticConfig struct {
		cfg *config.Config
	}

	countingMod struct {
		inits, connects, updates, shutdowns atomic.Int32
	}

	cliEnv struct {
		t      *testing.T
		dir    string
		base   afero.Fs
		cfg    *config.Config
		libs   *loader.StaticOpener
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	}
)

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	c := *s.cfg
	return &c, nil
}

func (m *countingMod) Init(modapi.Context) (modapi.Flags, error) {
	m.inits.Add(1)
	return modapi.FlagHasOnUpdate, nil
}

func (m *countingMod) Shutdown() { m.shutdowns.Add(1) }

func (m *countingMod) Connect() error {
	m.connects.Add(1)
	return nil
}

func (m *countingMod) Disconnect() {}

func (m *countingMod) OnUpdate() { m.updates.Add(1) }

// newCLIEnv lays out an empty loader directory with a /mods root.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	base := afero.NewBasePathFs(afero.NewOsFs(), dir)
	require.NoError(t, base.MkdirAll("/mods", 0o755))

	cfg := config.DefaultConfig()
	cfg.LoaderDir = config.HostDirPath(dir)
	cfg.SearchRoots = []config.TreePath{"/mods"}
	cfg.FrameInterval = time.Millisecond

	return &cliEnv{
		t:      t,
		dir:    dir,
		base:   base,
		cfg:    cfg,
		libs:   loader.NewStaticOpener(),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
}

// addMod writes an unpacked mod under /mods and registers its library.
func (e *cliEnv) addMod(id, version string, mod modapi.Mod, opts ...testutil.ManifestOption) {
	e.t.Helper()
	root := "/mods/" + id
	testutil.WriteMod(e.t, e.base, root, testutil.Manifest(id, version, opts...), id+modapi.LibraryExtension)
	if mod == nil {
		mod = &countingMod{}
	}
	e.libs.RegisterEntry(filepath.Join(e.dir, "mods", id, "bin", id+modapi.LibraryExtension), modapi.Registration{
		ID:      id,
		Version: version,
		Factory: func() modapi.Mod { return mod },
	})
}

// run executes the CLI with args against the env.
func (e *cliEnv) run(args ...string) error {
	e.t.Helper()
	e.stdout.Reset()
	e.stderr.Reset()
	app, err := NewApp(Dependencies{
		Config:    staticConfig{cfg: e.cfg},
		Libraries: e.libs,
		Stdout:    e.stdout,
		Stderr:    e.stderr,
	})
	require.NoError(e.t, err)

	root := NewRootCommand(app)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	root.SetArgs(args)
	return root.ExecuteContext(e.t.Context())
}
