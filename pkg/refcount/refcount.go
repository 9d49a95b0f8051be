// SPDX-License-Identifier: MPL-2.0

// Package refcount holds the two lifetime primitives shared across the mod
// boundary: an atomic reference counter whose last release runs a destroy
// hook, and a liveness flag that is flipped exactly once at teardown.
package refcount

import (
	"sync"
	"sync/atomic"
)

type (
	// Counter counts owners of a shared value. It starts with one reference
	// held by the creator.
	Counter struct {
		refs    atomic.Int64
		destroy func()
	}

	// Liveness reports whether the object it was created with still exists.
	// Holders that do not own the object check it before use.
	Liveness struct {
		mu    sync.RWMutex
		alive bool
	}
)

// NewCounter returns a counter holding one reference. destroy runs once,
// on the release that drops the count to zero.
func NewCounter(destroy func()) *Counter {
	c := &Counter{destroy: destroy}
	c.refs.Store(1)
	return c
}

// Acquire adds a reference and returns the new count.
func (c *Counter) Acquire() int64 {
	return c.refs.Add(1)
}

// Release drops a reference and returns the remaining count. Releasing a
// counter that is already at zero is a no-op.
func (c *Counter) Release() int64 {
	for {
		cur := c.refs.Load()
		if cur <= 0 {
			return 0
		}
		if c.refs.CompareAndSwap(cur, cur-1) {
			if cur == 1 && c.destroy != nil {
				c.destroy()
			}
			return cur - 1
		}
	}
}

// Count returns the current number of references.
func (c *Counter) Count() int64 {
	return c.refs.Load()
}

// NewLiveness returns a flag in the alive state.
func NewLiveness() *Liveness {
	return &Liveness{alive: true}
}

// Alive reports whether the tracked object has not been torn down.
func (l *Liveness) Alive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.alive
}

// Kill marks the tracked object as gone. It reports whether this call did
// the flip.
func (l *Liveness) Kill() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.alive {
		return false
	}
	l.alive = false
	return true
}
