// SPDX-License-Identifier: MPL-2.0

// Package userdata provides a typed, concurrency-safe side table that can be
// attached to shared objects such as mod metadata, registry containers, the
// loader and the mod context.
package userdata

import (
	"reflect"
	"sync"
)

// Box stores at most one value per Go type. The zero value is ready to use.
type Box struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// Get returns the value stored for T, if any.
func Get[T any](b *Box) (T, bool) {
	var zero T
	if b == nil {
		return zero, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[typeOf[T]()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// Set stores value under T and returns the value it replaced.
func Set[T any](b *Box, value T) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[reflect.Type]any)
	}
	key := typeOf[T]()
	prev, had := b.values[key]
	b.values[key] = value
	if !had {
		var zero T
		return zero, false
	}
	return prev.(T), true
}

// Delete removes the value stored under T.
func Delete[T any](b *Box) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := typeOf[T]()
	_, had := b.values[key]
	delete(b.values, key)
	return had
}

// Len returns the number of stored values.
func (b *Box) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}
