// SPDX-License-Identifier: MPL-2.0

// Package config handles the loader configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/balloon/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/balloon/config.cue on macOS, %APPDATA%\balloon\config.cue
// on Windows), or from $BALLOON_CONFIG_HOME when set. A config.toml in the same place
// is read when no CUE file exists.
// BALLOON_* environment variables override the file, e.g. BALLOON_LOG_LEVEL=debug.
//
// Both formats are validated against the embedded CUE schema (config_schema.cue) so that
// typos and wrong types are reported with the offending field path.
package config
