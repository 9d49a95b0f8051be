// SPDX-License-Identifier: MPL-2.0

// Package balloonmod describes a mod as declared by its balloon.mod.json
// manifest: identity, version, type, dependency requirements and
// descriptive fields.
//
// Metadata values are built once by Parser (or New for in-process mods)
// and are read-only afterwards, so a single *Metadata can be shared by
// every candidate, container and view that refers to the same manifest.
package balloonmod
