// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/balloon/balloon/internal/logging"
)

const (
	// LogLevelTrace logs everything, including per-frame dispatch.
	LogLevelTrace LogLevel = "trace"
	// LogLevelDebug logs loader decisions.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// DefaultFrameInterval paces the run loop at roughly 60 updates per second.
	DefaultFrameInterval = 16 * time.Millisecond
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidHostDirPath is returned when a HostDirPath value is whitespace-only.
	ErrInvalidHostDirPath = errors.New("invalid host directory path")
	// ErrInvalidTreePath is the sentinel error wrapped by InvalidTreePathError.
	ErrInvalidTreePath = errors.New("invalid loader tree path")
	// ErrInvalidModID is the sentinel error wrapped by InvalidModIDError.
	ErrInvalidModID = errors.New("invalid mod id")
	// ErrInvalidArchiveExtension is the sentinel error wrapped by InvalidArchiveExtensionError.
	ErrInvalidArchiveExtension = errors.New("invalid archive extension")
	// ErrInvalidFrameInterval is returned for a non-positive frame interval.
	ErrInvalidFrameInterval = errors.New("invalid frame interval")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel names the console and mod log threshold.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// HostDirPath is a directory on the host filesystem.
	// The zero value ("") is valid and means "the working directory".
	HostDirPath string

	// InvalidHostDirPathError is returned when a HostDirPath value is
	// non-empty but whitespace-only.
	InvalidHostDirPathError struct {
		Value HostDirPath
	}

	// TreePath is an absolute slash path inside the loader tree, e.g. "/mods".
	TreePath string

	// InvalidTreePathError is returned when a TreePath is empty or relative.
	// Field names the config key that held it.
	InvalidTreePathError struct {
		Field string
		Value TreePath
	}

	// InvalidModIDError is returned for an empty disabled mod id.
	InvalidModIDError struct {
		Value string
	}

	// InvalidArchiveExtensionError is returned for an empty or dotted-path
	// archive extension.
	InvalidArchiveExtensionError struct {
		Value string
	}

	// InvalidFrameIntervalError is returned for a frame interval <= 0.
	InvalidFrameIntervalError struct {
		Value time.Duration
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the loader configuration.
	Config struct {
		// LoaderDir is the host directory mounted as "/" of the loader tree.
		LoaderDir HostDirPath `json:"loader_dir" mapstructure:"loader_dir"`
		// SearchRoots are scanned for mods in order; missing roots are skipped.
		SearchRoots []TreePath `json:"search_roots" mapstructure:"search_roots"`
		// DisabledMods are never loaded.
		DisabledMods []string `json:"disabled_mods" mapstructure:"disabled_mods"`
		// CacheDir receives libraries extracted from archived mods.
		CacheDir TreePath `json:"cache_dir" mapstructure:"cache_dir"`
		// LogDir receives one log file per mod.
		LogDir TreePath `json:"log_dir" mapstructure:"log_dir"`
		// ModConfigDir holds the per-mod JSON configs.
		ModConfigDir TreePath `json:"config_dir" mapstructure:"config_dir"`
		// LogLevel is the console and mod log threshold.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// ArchiveExtensions are opened as zip containers (without dot).
		ArchiveExtensions []string `json:"archive_extensions" mapstructure:"archive_extensions"`
		// FrameInterval paces OnUpdate in "balloon run".
		FrameInterval time.Duration `json:"frame_interval" mapstructure:"frame_interval"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one the logger understands.
func (l LogLevel) IsValid() (bool, []error) {
	if strings.TrimSpace(string(l)) == "" {
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
	if _, err := logging.ParseLevel(string(l)); err != nil {
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: trace, debug, info, warn, error, fatal)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the string representation of the HostDirPath.
func (p HostDirPath) String() string { return string(p) }

// IsValid returns whether the HostDirPath is valid.
// Non-zero values must not be whitespace-only.
func (p HostDirPath) IsValid() (bool, []error) {
	if p != "" && strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidHostDirPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidHostDirPathError.
func (e *InvalidHostDirPathError) Error() string {
	return fmt.Sprintf("invalid host directory %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidHostDirPath for errors.Is() compatibility.
func (e *InvalidHostDirPathError) Unwrap() error { return ErrInvalidHostDirPath }

// String returns the string representation of the TreePath.
func (p TreePath) String() string { return string(p) }

// validate checks that p is absolute inside the loader tree.
func (p TreePath) validate(field string) error {
	if !strings.HasPrefix(string(p), "/") || strings.TrimSpace(string(p)) != string(p) {
		return &InvalidTreePathError{Field: field, Value: p}
	}
	return nil
}

// Error implements the error interface for InvalidTreePathError.
func (e *InvalidTreePathError) Error() string {
	return fmt.Sprintf("%s: invalid path %q: must be absolute inside the loader directory, e.g. \"/mods\"", e.Field, e.Value)
}

// Unwrap returns ErrInvalidTreePath for errors.Is() compatibility.
func (e *InvalidTreePathError) Unwrap() error { return ErrInvalidTreePath }

// Error implements the error interface for InvalidModIDError.
func (e *InvalidModIDError) Error() string {
	return fmt.Sprintf("disabled_mods: invalid mod id %q", e.Value)
}

// Unwrap returns ErrInvalidModID for errors.Is() compatibility.
func (e *InvalidModIDError) Unwrap() error { return ErrInvalidModID }

// Error implements the error interface for InvalidArchiveExtensionError.
func (e *InvalidArchiveExtensionError) Error() string {
	return fmt.Sprintf("archive_extensions: invalid extension %q", e.Value)
}

// Unwrap returns ErrInvalidArchiveExtension for errors.Is() compatibility.
func (e *InvalidArchiveExtensionError) Unwrap() error { return ErrInvalidArchiveExtension }

// Error implements the error interface for InvalidFrameIntervalError.
func (e *InvalidFrameIntervalError) Error() string {
	return fmt.Sprintf("frame_interval: %s must be positive", e.Value)
}

// Unwrap returns ErrInvalidFrameInterval for errors.Is() compatibility.
func (e *InvalidFrameIntervalError) Unwrap() error { return ErrInvalidFrameInterval }

// IsValid returns whether the Config has valid fields, collecting every
// field error.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.LoaderDir.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	for _, root := range c.SearchRoots {
		if err := root.validate("search_roots"); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range c.DisabledMods {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, &InvalidModIDError{Value: id})
		}
	}
	for field, p := range map[string]TreePath{
		"cache_dir":  c.CacheDir,
		"log_dir":    c.LogDir,
		"config_dir": c.ModConfigDir,
	} {
		if err := p.validate(field); err != nil {
			errs = append(errs, err)
		}
	}
	if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	for _, ext := range c.ArchiveExtensions {
		e := strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if e == "" || strings.ContainsAny(e, "/\\.") {
			errs = append(errs, &InvalidArchiveExtensionError{Value: ext})
		}
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, &InvalidFrameIntervalError{Value: c.FrameInterval})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return "invalid config: " + e.FieldErrors[0].Error()
	}
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Roots returns the search roots as plain strings.
func (c Config) Roots() []string {
	out := make([]string, 0, len(c.SearchRoots))
	for _, r := range c.SearchRoots {
		out = append(out, string(r))
	}
	return out
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LoaderDir:         "",
		SearchRoots:       []TreePath{"/game/Mods", "/mods", "/user/mods"},
		DisabledMods:      []string{},
		CacheDir:          "/cache",
		LogDir:            "/logs",
		ModConfigDir:      "/configs",
		LogLevel:          LogLevelInfo,
		ArchiveExtensions: []string{"zip"},
		FrameInterval:     DefaultFrameInterval,
	}
}
