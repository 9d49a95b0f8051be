// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
)

type (
	fakeLib struct{ path string }

	fakeMod struct{ inits int }
)

func (l fakeLib) Path() string { return l.path }

func (l fakeLib) Lookup(string) (any, error) { return nil, errors.New("no symbols") }

func (*fakeMod) Init(modapi.Context) (modapi.Flags, error) { return 0, nil }

func (*fakeMod) Shutdown() {}

func (*fakeMod) Connect() error { return nil }

func (*fakeMod) Disconnect() {}

func newRegistry() *Registry { return New(log.New(io.Discard)) }

func add(t *testing.T, r *Registry, id string) (*Container, error) {
	t.Helper()
	meta, err := balloonmod.New(id, "1.0.0")
	require.NoError(t, err)
	return r.AddMod("/mods/"+id, "/mods/"+id, meta, fakeLib{path: "/mods/" + id + "/bin/" + id + ".so"},
		&modapi.Registration{ID: id, Version: "1.0.0", Factory: func() modapi.Mod { return &fakeMod{} }})
}

func mustAdd(t *testing.T, r *Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := add(t, r, id)
		require.NoError(t, err)
	}
}

func TestAddMod(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	mustAdd(t, r, "a", "b")

	assert.Equal(t, 2, r.Count())
	assert.True(t, r.HasMod("a"))
	assert.Equal(t, []string{"a", "b"}, r.IDs())
	c, ok := r.ModAt(1)
	require.True(t, ok)
	assert.Equal(t, "b", c.ID())
	_, ok = r.ModAt(2)
	assert.False(t, ok)

	_, err := add(t, r, "a")
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestAddMod_RejectsBadInput(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	meta, err := balloonmod.New("a", "1.0.0")
	require.NoError(t, err)
	lib := fakeLib{path: "x"}

	_, err = r.AddMod("", "/s", meta, lib, &modapi.Registration{ID: "a"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.AddMod("/r", "/s", nil, lib, &modapi.Registration{ID: "a"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.AddMod("/r", "/s", meta, nil, &modapi.Registration{ID: "a"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.AddMod("/r", "/s", meta, lib, &modapi.Registration{ID: "b"})
	require.ErrorIs(t, err, ErrIDMismatch)
	assert.Zero(t, r.Count())
}

func TestAddMod_PreAddVeto(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	veto := errors.New("not today")
	r.AddCallback(PhasePreAdd, func(c *Container) error {
		if c.ID() == "b" {
			return veto
		}
		return nil
	})
	var postAdds int
	r.AddCallback(PhasePostAdd, func(*Container) error { postAdds++; return nil })

	mustAdd(t, r, "a")
	_, err := add(t, r, "b")
	require.ErrorIs(t, err, ErrVetoed)
	require.ErrorIs(t, err, veto)

	_, ok := r.Mod("b")
	assert.False(t, ok)
	assert.Equal(t, 1, postAdds)
}

func TestAddMod_PostAddVetoRollsBack(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	var seenInside bool
	r.AddCallback(PhasePostAdd, func(c *Container) error {
		seenInside = r.HasMod(c.ID())
		return errors.New("rollback")
	})

	c, err := add(t, r, "a")
	require.ErrorIs(t, err, ErrVetoed)
	assert.Nil(t, c)
	assert.True(t, seenInside, "POSTADD runs after insertion")
	assert.False(t, r.HasMod("a"))
	assert.Zero(t, r.Count())
}

func TestRemoveMod(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	mustAdd(t, r, "a", "b")
	a, _ := r.Mod("a")

	id := r.AddCallback(PhasePreRemove, func(c *Container) error {
		if c.ID() == "a" {
			return errors.New("pinned")
		}
		return nil
	})
	var removed []string
	r.AddCallback(PhasePostRemove, func(c *Container) error {
		removed = append(removed, c.ID())
		return errors.New("ignored")
	})

	require.ErrorIs(t, r.RemoveMod("a"), ErrVetoed)
	assert.True(t, a.Alive())

	require.True(t, r.RemoveCallback(id))
	require.False(t, r.RemoveCallback(id))
	require.NoError(t, r.RemoveMod("a"))
	assert.False(t, r.HasMod("a"))
	assert.False(t, a.Alive())
	assert.Equal(t, []string{"a"}, removed)

	require.ErrorIs(t, r.RemoveMod("a"), ErrNotRegistered)
}

func TestIterateMods_Instructions(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	mustAdd(t, r, "a", "b", "c")
	var postRemoved []string
	r.AddCallback(PhasePreRemove, func(*Container) error { return errors.New("no PREREMOVE during iteration") })
	r.AddCallback(PhasePostRemove, func(c *Container) error { postRemoved = append(postRemoved, c.ID()); return nil })

	var visited []string
	ok := r.IterateMods(func(c *Container) Instruction {
		visited = append(visited, c.ID())
		if c.ID() == "b" {
			return Remove
		}
		return Continue
	}, false)

	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, visited)
	_, found := r.Mod("b")
	assert.False(t, found)
	assert.Equal(t, []string{"a", "c"}, r.IDs())
	assert.Equal(t, []string{"b"}, postRemoved)
}

func TestIterateMods_ReverseAndAbort(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	mustAdd(t, r, "a", "b", "c")

	var visited []string
	ok := r.IterateMods(func(c *Container) Instruction {
		visited = append(visited, c.ID())
		if c.ID() == "b" {
			return Abort
		}
		return Continue
	}, true)

	assert.False(t, ok)
	assert.Equal(t, []string{"c", "b"}, visited)
	assert.Equal(t, 3, r.Count())
}

func TestIterateMods_SkipsEntriesRemovedMidWalk(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	mustAdd(t, r, "a", "b", "c")

	var visited []string
	r.IterateMods(func(c *Container) Instruction {
		visited = append(visited, c.ID())
		if c.ID() == "a" {
			require.NoError(t, r.RemoveMod("b"))
		}
		return Continue
	}, false)

	assert.Equal(t, []string{"a", "c"}, visited)
}

func TestContainer_Lifecycle(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	var deleted modapi.Mod
	meta, err := balloonmod.New("a", "1.0.0")
	require.NoError(t, err)
	c, err := r.AddMod("/mods/a", "/mods/a.zip", meta, fakeLib{path: "x"}, &modapi.Registration{
		ID:      "a",
		Version: "1.0.0",
		Factory: func() modapi.Mod { return &fakeMod{} },
		Deleter: func(m modapi.Mod) { deleted = m },
	})
	require.NoError(t, err)
	assert.True(t, c.IsArchive())

	m, err := c.Instantiate()
	require.NoError(t, err)
	assert.Same(t, m, c.Instance())
	_, err = c.Instantiate()
	require.ErrorIs(t, err, ErrAlreadyInstantiated)

	c.DestroyInstance()
	assert.Same(t, m, deleted)
	assert.Nil(t, c.Instance())

	prev := c.AddFlags(modapi.FlagFixed | modapi.FlagInitialized)
	assert.Equal(t, modapi.Flags(0), prev)
	assert.True(t, c.HasFlags(modapi.FlagFixed))
	c.ClearFlags(modapi.FlagInitialized)
	assert.Equal(t, modapi.FlagFixed, c.Flags())
}

func TestContainer_NoFactory(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	meta, err := balloonmod.New("a", "1.0.0")
	require.NoError(t, err)
	c, err := r.AddMod("/mods/a", "/mods/a", meta, fakeLib{path: "x"}, &modapi.Registration{ID: "a"})
	require.NoError(t, err)

	_, err = c.Instantiate()
	require.ErrorIs(t, err, ErrNoFactory)
}
