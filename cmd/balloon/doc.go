// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for balloon.
//
// The root command carries the global flags; "config" manages the
// configuration file, "mods" inspects the mod tree without loading any
// library and "run" drives a full session with the frame loop of
// internal/host standing in for the game.
package cmd
