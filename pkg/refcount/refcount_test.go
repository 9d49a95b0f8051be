// SPDX-License-Identifier: MPL-2.0

package refcount

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_LastReleaseDestroys(t *testing.T) {
	t.Parallel()

	var destroyed int
	c := NewCounter(func() { destroyed++ })
	assert.Equal(t, int64(2), c.Acquire())
	assert.Equal(t, int64(1), c.Release())
	assert.Equal(t, 0, destroyed)
	assert.Equal(t, int64(0), c.Release())
	assert.Equal(t, 1, destroyed)

	// Over-release is ignored.
	assert.Equal(t, int64(0), c.Release())
	assert.Equal(t, 1, destroyed)
}

func TestCounter_ConcurrentRelease(t *testing.T) {
	t.Parallel()

	var destroyed atomic.Int32
	c := NewCounter(func() { destroyed.Add(1) })
	for range 99 {
		c.Acquire()
	}

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), destroyed.Load())
	assert.Equal(t, int64(0), c.Count())
}

func TestLiveness_FlipsOnce(t *testing.T) {
	t.Parallel()

	l := NewLiveness()
	assert.True(t, l.Alive())
	assert.True(t, l.Kill())
	assert.False(t, l.Alive())
	assert.False(t, l.Kill())
}
