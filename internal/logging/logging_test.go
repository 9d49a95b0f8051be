// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balloon/balloon/pkg/modapi"
)

var _ modapi.Logger = (*Logger)(nil)

type closingBuffer struct {
	bytes.Buffer
	closed int
}

func (b *closingBuffer) Close() error {
	b.closed++
	return nil
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	l, err := ParseLevel("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)
	assert.Equal(t, "trace", LevelName(l))

	l, err = ParseLevel(" warn ")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, l)

	_, err = ParseLevel("loud")
	require.ErrorIs(t, err, log.ErrInvalidLevel)
}

func TestStore_SharesAndReleases(t *testing.T) {
	t.Parallel()

	s := NewStore(io.Discard, log.InfoLevel)
	a := s.Get("extra")
	b := s.Get("extra")
	assert.Same(t, a, b)
	assert.Equal(t, []string{"extra"}, s.IDs())

	sink := &closingBuffer{}
	a.AddSink(sink)

	a.Release()
	_, ok := s.Lookup("extra")
	assert.True(t, ok, "one reference is still held")
	assert.Zero(t, sink.closed)

	b.Release()
	_, ok = s.Lookup("extra")
	assert.False(t, ok)
	assert.Equal(t, 1, sink.closed)

	assert.NotSame(t, a, s.Get("extra"), "a released id gets a fresh logger")
}

func TestStore_DefaultLogger(t *testing.T) {
	t.Parallel()

	s := NewStore(io.Discard, log.InfoLevel)
	assert.Same(t, s.Default(), s.Get(""))
	assert.Same(t, s.Default(), s.Get(DefaultID))
	s.Default().Release()
	l, ok := s.Lookup("")
	assert.True(t, ok)
	assert.Same(t, s.Default(), l)
}

func TestLogger_WritesConsoleAndSinks(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	s := NewStore(&console, TraceLevel)
	l := s.Get("core")

	var file bytes.Buffer
	remove := l.AddSink(&file)
	l.Trace("tracing", "k", 1)
	l.Fatal("bad but alive")
	remove()
	l.Info("console only")

	assert.Contains(t, console.String(), "tracing")
	assert.Contains(t, console.String(), "core")
	assert.Contains(t, console.String(), "console only")
	assert.Contains(t, file.String(), "bad but alive")
	assert.NotContains(t, file.String(), "console only")
}

func TestStore_SetLevel(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	s := NewStore(&console, log.InfoLevel)
	l := s.Get("core")

	l.Debug("hidden")
	s.SetLevel(log.DebugLevel)
	l.Debug("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
	assert.Equal(t, log.DebugLevel, s.Level())
	assert.Equal(t, log.DebugLevel, s.Default().Level())
}
