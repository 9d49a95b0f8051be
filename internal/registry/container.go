// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
	"github.com/balloon/balloon/pkg/refcount"
	"github.com/balloon/balloon/pkg/userdata"
)

var (
	// ErrNoFactory is returned by Instantiate when the registration lacks a
	// factory or the factory returns nil.
	ErrNoFactory = errors.New("mod registration has no usable factory")
	// ErrAlreadyInstantiated is returned by a second Instantiate.
	ErrAlreadyInstantiated = errors.New("mod is already instantiated")
)

type (
	// Library is a loaded mod library.
	Library interface {
		Path() string
		Lookup(symbol string) (any, error)
	}

	// Container is one registry entry. Flags are atomic; everything else is
	// fixed at construction except the instance, which exists between
	// Instantiate and DestroyInstance.
	Container struct {
		rootPath   string
		sourcePath string
		meta       *balloonmod.Metadata
		lib        Library
		info       *modapi.Registration

		flags    atomic.Uint32
		instance modapi.Mod
		data     userdata.Box
		live     *refcount.Liveness
	}
)

var _ modapi.ModHandle = (*Container)(nil)

func newContainer(root, source string, meta *balloonmod.Metadata, lib Library, info *modapi.Registration) *Container {
	return &Container{
		rootPath:   root,
		sourcePath: source,
		meta:       meta,
		lib:        lib,
		info:       info,
		live:       refcount.NewLiveness(),
	}
}

// ID returns the mod id.
func (c *Container) ID() string { return c.meta.ID() }

// RootPath is the directory the mod's files are read from. For archives
// this is the mount point.
func (c *Container) RootPath() string { return c.rootPath }

// SourcePath is where the mod was discovered: a directory or an archive.
func (c *Container) SourcePath() string { return c.sourcePath }

// IsArchive reports whether the mod came from an archive.
func (c *Container) IsArchive() bool { return c.rootPath != c.sourcePath }

// Metadata returns the parsed manifest.
func (c *Container) Metadata() *balloonmod.Metadata { return c.meta }

// Library returns the loaded library.
func (c *Container) Library() Library { return c.lib }

// Info returns the registration record the library installed.
func (c *Container) Info() *modapi.Registration { return c.info }

// Flags returns the current flag set.
func (c *Container) Flags() modapi.Flags { return modapi.Flags(c.flags.Load()) }

// HasFlags reports whether every bit of f is set.
func (c *Container) HasFlags(f modapi.Flags) bool { return c.Flags().Has(f) }

// AddFlags sets f and returns the previous flags.
func (c *Container) AddFlags(f modapi.Flags) modapi.Flags {
	return modapi.Flags(c.flags.Or(uint32(f)))
}

// ClearFlags clears f and returns the previous flags.
func (c *Container) ClearFlags(f modapi.Flags) modapi.Flags {
	return modapi.Flags(c.flags.And(^uint32(f)))
}

// Instance returns the mod instance, or nil outside Instantiate and
// DestroyInstance.
func (c *Container) Instance() modapi.Mod { return c.instance }

// Instantiate creates the mod instance through the registration factory.
func (c *Container) Instantiate() (modapi.Mod, error) {
	if c.instance != nil {
		return nil, fmt.Errorf("%s: %w", c.ID(), ErrAlreadyInstantiated)
	}
	if c.info.Factory == nil {
		return nil, fmt.Errorf("%s: %w", c.ID(), ErrNoFactory)
	}
	m := c.info.Factory()
	if m == nil {
		return nil, fmt.Errorf("%s: %w", c.ID(), ErrNoFactory)
	}
	c.instance = m
	return m, nil
}

// DestroyInstance hands the instance to the registration deleter and drops
// it. It is a no-op when there is no instance.
func (c *Container) DestroyInstance() {
	if c.instance == nil {
		return
	}
	if c.info.Deleter != nil {
		c.info.Deleter(c.instance)
	}
	c.instance = nil
}

// UserData returns the container's side table.
func (c *Container) UserData() *userdata.Box { return &c.data }

// Alive reports whether the container is still registered.
func (c *Container) Alive() bool { return c.live.Alive() }

// String renders "id@version".
func (c *Container) String() string { return c.meta.String() }
