// SPDX-License-Identifier: MPL-2.0

// Package testutil builds mod fixtures for tests: manifests (Manifest and
// its options), unpacked mod trees (WriteMod) and zipped mods (ZipMod,
// WriteZipMod) on any afero filesystem.
package testutil
