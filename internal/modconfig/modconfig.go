// SPDX-License-Identifier: MPL-2.0

// Package modconfig holds the per-mod configuration trees.
//
// A Config is a viper instance used purely as an in-memory section tree:
// it is filled from JSON bytes with Read and serialized back with Write.
// Keys are dotted paths and, as everywhere in viper, case-insensitive.
package modconfig

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/spf13/viper"

	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/refcount"
)

const configType = "json"

// ErrEmptyID is returned by Store.Get for an empty id.
var ErrEmptyID = errors.New("config id must not be empty")

type (
	// Config is one mod's configuration tree. It is safe for concurrent use.
	Config struct {
		id   string
		mu   sync.RWMutex
		v    *viper.Viper
		refs *refcount.Counter
	}

	// Store hands out one Config per id, reference counted.
	Store struct {
		mu      sync.Mutex
		configs map[string]*Config
		onDrop  func(*Config)
	}

	// StoreOption configures a Store.
	StoreOption func(*Store)
)

var _ modapi.Config = (*Config)(nil)

// WithDropHook sets a function called with a config right after its last
// reference is released. The orchestrator uses it to persist the tree.
func WithDropHook(fn func(*Config)) StoreOption {
	return func(s *Store) { s.onDrop = fn }
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{configs: make(map[string]*Config)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the config for id, creating an empty one on first use, and
// takes a reference on it.
func (s *Store) Get(id string) (*Config, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.configs[id]; ok {
		c.refs.Acquire()
		return c, nil
	}
	c := New(id)
	c.refs = refcount.NewCounter(func() { s.drop(c) })
	s.configs[id] = c
	return c, nil
}

// Lookup returns the config for id without taking a reference.
func (s *Store) Lookup(id string) (*Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	return c, ok
}

// IDs lists the live configs.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.configs))
}

func (s *Store) drop(c *Config) {
	s.mu.Lock()
	if s.configs[c.id] == c {
		delete(s.configs, c.id)
	}
	s.mu.Unlock()
	if s.onDrop != nil {
		s.onDrop(c)
	}
}

// New returns a standalone, empty config that is not tracked by any store.
func New(id string) *Config {
	v := viper.New()
	v.SetConfigType(configType)
	return &Config{id: id, v: v}
}

// ID returns the id the config belongs to.
func (c *Config) ID() string { return c.id }

// Release drops a reference taken by Store.Get. It is a no-op on
// standalone configs.
func (c *Config) Release() {
	if c.refs != nil {
		c.refs.Release()
	}
}

// Read replaces the stored values with the JSON document in data.
// Defaults are kept. Empty data clears the values.
func (c *Config) Read(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("read config %s: %w", c.id, err)
	}
	return nil
}

// Write serializes the merged tree, defaults and values, as JSON.
func (c *Config) Write() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var buf bytes.Buffer
	if err := c.v.WriteConfigTo(&buf); err != nil {
		return nil, fmt.Errorf("write config %s: %w", c.id, err)
	}
	return buf.Bytes(), nil
}

// Get returns the raw value at key, or nil.
func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.Get(key)
}

// GetString returns the value at key as a string.
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(key)
}

// GetInt returns the value at key as an int.
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetInt(key)
}

// GetBool returns the value at key as a bool.
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetBool(key)
}

// GetFloat64 returns the value at key as a float64.
func (c *Config) GetFloat64(key string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetFloat64(key)
}

// Set stores value at key.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.Set(key, value)
}

// SetDefault stores a fallback for key. Defaults are written out by Write
// so a fresh config file documents every known key.
func (c *Config) SetDefault(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v.SetDefault(key, value)
}

// IsSet reports whether key has a value or a default.
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.IsSet(key)
}

// Keys lists every leaf key in dotted form.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.v.AllKeys()
	slices.Sort(keys)
	return keys
}

// Sections lists the top-level keys that hold nested sections.
func (c *Config) Sections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sections []string
	for k, v := range c.v.AllSettings() {
		if _, ok := v.(map[string]any); ok {
			sections = append(sections, k)
		}
	}
	slices.Sort(sections)
	return sections
}
