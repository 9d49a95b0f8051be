// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"bytes"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/internal/testutil"
	"github.com/balloon/balloon/internal/vfs"
	"github.com/balloon/balloon/pkg/balloonmod"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func candidate(t *testing.T, id, version string, opts ...balloonmod.Option) Candidate {
	t.Helper()
	m, err := balloonmod.New(id, version, opts...)
	require.NoError(t, err)
	return NewCandidate("/mods/"+id+"-"+version, m)
}

func collect(t *testing.T, f Finder) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.FindCandidates(func(p string) { out = append(out, p) }))
	return out
}

func TestCandidate_Ordering(t *testing.T) {
	t.Parallel()

	cs := []Candidate{
		candidate(t, "b", "1.0.0"),
		candidate(t, "a", "1.0.0"),
		candidate(t, "a", "2.0.0"),
		candidate(t, "a", "1.5.0-beta.1"),
		{},
	}
	SortCandidates(cs)

	got := make([]string, 0, len(cs))
	for _, c := range cs {
		got = append(got, c.String())
	}
	assert.Equal(t, []string{"<invalid>", "a@2.0.0", "a@1.5.0-beta.1", "a@1.0.0", "b@1.0.0"}, got)
}

func TestCandidate_Equality(t *testing.T) {
	t.Parallel()

	a1 := candidate(t, "a", "1.0.0")
	a1other := NewCandidate("/elsewhere", a1.Metadata)
	a2 := candidate(t, "a", "2.0.0")

	assert.True(t, a1.Equal(a1other))
	assert.False(t, a1.Equal(a2))
	assert.True(t, Candidate{}.Equal(Candidate{}))
	assert.False(t, Candidate{}.Equal(a1))
	assert.False(t, a1.Equal(Candidate{}))
	assert.Equal(t, "a@1.0.0", a1.Key())
}

func TestCandidateSet(t *testing.T) {
	t.Parallel()

	s := NewCandidateSet()
	assert.True(t, s.Add(candidate(t, "b", "1.0.0")))
	assert.True(t, s.Add(candidate(t, "a", "1.0.0")))
	assert.False(t, s.Add(candidate(t, "a", "1.0.0")), "duplicate key")
	assert.False(t, s.Add(Candidate{}), "invalid candidates are never stored")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "b", s.Items()[0].ID())
	assert.Equal(t, "a", s.Sorted()[0].ID())
	assert.True(t, s.Contains(candidate(t, "a", "1.0.0")))

	_, ok := s.Get("a@1.0.0")
	assert.True(t, ok)
}

func TestGroupByID(t *testing.T) {
	t.Parallel()

	groups := GroupByID([]Candidate{
		candidate(t, "a", "1.0.0"),
		candidate(t, "b", "1.0.0"),
		candidate(t, "a", "3.0.0"),
		{},
	})
	require.Len(t, groups, 2)
	require.Len(t, groups["a"], 2)
	assert.Equal(t, "3.0.0", groups["a"][0].Version().String())
}

func newModTree(t *testing.T) (*vfs.FileSystem, afero.Fs) {
	t.Helper()
	base := afero.NewMemMapFs()
	testutil.WriteMod(t, base, "/mods/core", testutil.Manifest("core", "1.0.0", testutil.WithType("builtin")), "core.so")
	testutil.WriteMod(t, base, "/mods/nolib", testutil.Manifest("nolib", "1.0.0"), "readme.txt")
	require.NoError(t, base.MkdirAll("/mods/empty", 0o755))
	testutil.WriteZipMod(t, base, "/mods/extra.zip", testutil.Manifest("extra", "1.0.0", testutil.DependsOn("core", ">=1.0.0")), "extra.so")
	testutil.WriteZipMod(t, base, "/mods/core.ZIP", testutil.Manifest("core", "9.0.0"), "core.so")
	require.NoError(t, afero.WriteFile(base, "/mods/junk.zip", testutil.ZipMod(t, map[string]string{"x": "y"}), 0o644))
	require.NoError(t, afero.WriteFile(base, "/mods/notes.txt", []byte("hi"), 0o644))
	return vfs.New(base), base
}

func TestIsValidMod(t *testing.T) {
	t.Parallel()

	fs, _ := newModTree(t)
	assert.True(t, IsValidMod(fs, "/mods/core"))
	assert.False(t, IsValidMod(fs, "/mods/nolib"))
	assert.False(t, IsValidMod(fs, "/mods/empty"))
	assert.False(t, IsValidMod(fs, "/mods/absent"))
}

func TestDirectoryFinder(t *testing.T) {
	t.Parallel()

	fs, _ := newModTree(t)
	var diags []Diagnostic
	var logs bytes.Buffer
	f := NewDirectoryFinder(fs, "/mods", WithFinderLogger(log.New(&logs)), WithDiagnostics(func(d Diagnostic) { diags = append(diags, d) }))

	got := collect(t, f)
	assert.Equal(t, []string{"/mods/core", "/mods/extra.zip"}, got)

	// The shadowed archive was never mounted, the invalid one was unmounted.
	assert.Equal(t, []string{"/mods/extra"}, fs.MountPoints())
	require.Len(t, diags, 1)
	assert.Equal(t, CodeArchiveIgnored, diags[0].Code)
	assert.Equal(t, "/mods/core.ZIP", diags[0].Path)
	assert.Contains(t, logs.String(), "archive will be ignored")

	// A second pass reuses the live mount.
	assert.Equal(t, got, collect(t, f))
}

func TestDirectoryFinder_Roots(t *testing.T) {
	t.Parallel()

	fs, _ := newModTree(t)
	assert.Empty(t, collect(t, NewDirectoryFinder(fs, "/nowhere")))
	require.ErrorIs(t, NewDirectoryFinder(fs, "").FindCandidates(func(string) {}), ErrEmptyRoot)
}

func TestScanner(t *testing.T) {
	t.Parallel()

	fs, base := newModTree(t)
	require.NoError(t, fs.Mount("/mods/extra.zip", "/mods/extra"))
	s := NewScanner(fs, nil, quietLogger())

	c, err := s.ScanCandidate("/mods/core")
	require.NoError(t, err)
	assert.Equal(t, "core", c.ID())
	assert.True(t, c.IsBuiltin())
	assert.Equal(t, "/mods/core", c.Path)

	c, err = s.ScanCandidate("/mods/extra.zip")
	require.NoError(t, err)
	assert.Equal(t, "extra", c.ID())
	assert.Equal(t, "/mods/extra.zip", c.Path, "archives keep their own path")
	require.Len(t, c.DependsOn(), 1)

	_, err = s.ScanCandidate("/mods/missing")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(base, "/mods/core/balloon.mod.json", []byte(`{"id": "Balloon", "version": "1.0.0"}`), 0o644))
	_, err = s.ScanCandidate("/mods/core")
	require.ErrorIs(t, err, balloonmod.ErrReservedID)
}

func TestExplorer(t *testing.T) {
	t.Parallel()

	fs, base := newModTree(t)
	testutil.WriteMod(t, base, "/user/mods/broken", `{"id": 1}`, "broken.so")
	testutil.WriteMod(t, base, "/user/mods/skipme", testutil.Manifest("skipme", "1.0.0"), "skipme.so")

	e := NewExplorer(NewScanner(fs, nil, quietLogger()), WithDisabledMods("skipme"), WithExplorerLogger(quietLogger()))
	e.AddFinder(NewDirectoryFinder(fs, "/mods", WithFinderLogger(quietLogger())))
	e.AddFinder(NewDirectoryFinder(fs, "/mods", WithFinderLogger(quietLogger())))
	e.AddFinder(NewDirectoryFinder(fs, "/user/mods", WithFinderLogger(quietLogger())))
	e.AddFinder(NewDirectoryFinder(fs, ""))

	res := e.Explore()

	var ids []string
	for _, c := range res.Candidates.Sorted() {
		ids = append(ids, c.String())
	}
	assert.Equal(t, []string{"core@1.0.0", "extra@1.0.0"}, ids)
	require.Contains(t, res.Disabled, "skipme")
	assert.Len(t, res.Disabled["skipme"], 1)

	codes := map[string]int{}
	for _, d := range res.Diagnostics {
		codes[d.Code]++
	}
	assert.Equal(t, map[string]int{CodeFinderFailed: 1, CodeScanFailed: 1, CodeModDisabled: 1}, codes)
}
