// SPDX-License-Identifier: MPL-2.0

package events

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/pkg/modapi"
)

func newManager() *Manager { return New(log.New(io.Discard)) }

func TestTypes(t *testing.T) {
	t.Parallel()

	m := newManager()
	assert.Equal(t, modapi.InvalidEventType, m.AddType(""))

	loaded := m.AddType(ModsLoaded)
	frame := m.AddType("frame")
	assert.NotEqual(t, modapi.InvalidEventType, loaded)
	assert.NotEqual(t, loaded, frame)
	assert.Equal(t, loaded, m.AddType(ModsLoaded), "re-adding returns the existing type")
	assert.Equal(t, 2, m.TypeCount())

	got, ok := m.Type("frame")
	require.True(t, ok)
	assert.Equal(t, frame, got)
	name, ok := m.TypeName(loaded)
	require.True(t, ok)
	assert.Equal(t, ModsLoaded, name)
	_, ok = m.TypeName(modapi.InvalidEventType)
	assert.False(t, ok)
	_, ok = m.TypeName(99)
	assert.False(t, ok)
}

func TestRenameType(t *testing.T) {
	t.Parallel()

	m := newManager()
	a := m.AddType("a")
	m.AddType("b")

	require.ErrorIs(t, m.RenameType(a, "b"), ErrDuplicateName)
	require.ErrorIs(t, m.RenameType(42, "c"), ErrUnknownType)
	require.NoError(t, m.RenameType(a, "a"))
	require.NoError(t, m.RenameType(a, "c"))

	_, ok := m.Type("a")
	assert.False(t, ok)
	got, ok := m.Type("c")
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestSend_OrderAndUnsubscribe(t *testing.T) {
	t.Parallel()

	m := newManager()
	ty := m.AddType("tick")

	var calls []string
	_, err := m.AddListener(ty, func(e modapi.Event) bool {
		calls = append(calls, "once:"+e.Payload.(string))
		return false
	})
	require.NoError(t, err)
	_, err = m.AddListenerByName("tick", func(e modapi.Event) bool {
		calls = append(calls, "always:"+e.Name)
		return true
	})
	require.NoError(t, err)

	require.True(t, m.Send(ty, "1"))
	require.True(t, m.SendByName("tick", "2"))
	assert.Equal(t, []string{"once:1", "always:tick", "always:tick"}, calls)

	assert.False(t, m.Send(modapi.InvalidEventType, nil))
	assert.False(t, m.SendByName("nope", nil))
}

func TestSend_ReentrancyIsRejected(t *testing.T) {
	t.Parallel()

	m := newManager()
	ty := m.AddType("tick")
	other := m.AddType("other")

	var nested, addErr, otherSent = true, error(nil), false
	id, err := m.AddListener(ty, func(modapi.Event) bool {
		nested = m.Send(ty, nil)
		_, addErr = m.AddListener(ty, func(modapi.Event) bool { return true })
		otherSent = m.Send(other, nil)
		return true
	})
	require.NoError(t, err)

	require.True(t, m.Send(ty, nil))
	assert.False(t, nested)
	require.ErrorIs(t, addErr, ErrDispatching)
	assert.True(t, otherSent, "other types are not locked")

	assert.True(t, m.RemoveListener(id))
	assert.False(t, m.RemoveListener(id))
}

func TestRemoveAllListenersAndReset(t *testing.T) {
	t.Parallel()

	m := newManager()
	ty := m.AddType("tick")
	var n int
	for range 3 {
		_, err := m.AddListener(ty, func(modapi.Event) bool { n++; return true })
		require.NoError(t, err)
	}
	_, err := m.AddListener(ty, nil)
	require.ErrorIs(t, err, ErrNilListener)
	_, err = m.AddListenerByName("missing", func(modapi.Event) bool { return true })
	require.ErrorIs(t, err, ErrUnknownType)

	require.NoError(t, m.RemoveAllListeners(ty))
	m.Send(ty, nil)
	assert.Zero(t, n)

	m.Reset()
	assert.Zero(t, m.TypeCount())
	assert.Equal(t, modapi.EventType(1), m.AddType("fresh"))
}
