// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
	"time"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level LogLevel
		want  bool
	}{
		{LogLevelTrace, true},
		{LogLevelDebug, true},
		{LogLevelInfo, true},
		{LogLevelWarn, true},
		{LogLevelError, true},
		{"fatal", true},
		{"", false},
		{"loud", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			isValid, errs := tt.level.IsValid()
			if isValid != tt.want {
				t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tt.level, isValid, tt.want)
			}
			if !tt.want {
				if len(errs) == 0 {
					t.Fatalf("LogLevel(%q).IsValid() returned no errors, want error", tt.level)
				}
				if !errors.Is(errs[0], ErrInvalidLogLevel) {
					t.Errorf("error should wrap ErrInvalidLogLevel, got: %v", errs[0])
				}
			} else if len(errs) > 0 {
				t.Errorf("LogLevel(%q).IsValid() returned unexpected errors: %v", tt.level, errs)
			}
		})
	}
}

func TestHostDirPath_IsValid(t *testing.T) {
	t.Parallel()

	for _, p := range []HostDirPath{"", "/opt/game", "C:\\Games\\Balloon"} {
		if ok, errs := p.IsValid(); !ok {
			t.Errorf("HostDirPath(%q).IsValid() = false: %v", p, errs)
		}
	}
	ok, errs := HostDirPath("  ").IsValid()
	if ok || len(errs) != 1 || !errors.Is(errs[0], ErrInvalidHostDirPath) {
		t.Errorf("whitespace-only path should be invalid, got %v %v", ok, errs)
	}
}

func TestConfig_IsValid_CollectsFieldErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SearchRoots = []TreePath{"/mods", "relative"}
	cfg.DisabledMods = []string{" "}
	cfg.CacheDir = ""
	cfg.LogLevel = "loud"
	cfg.ArchiveExtensions = []string{"zip", "a/b"}
	cfg.FrameInterval = -time.Second

	valid, errs := cfg.IsValid()
	if valid {
		t.Fatal("expected invalid config")
	}
	var cfgErr *InvalidConfigError
	if !errors.As(errs[0], &cfgErr) {
		t.Fatalf("expected *InvalidConfigError, got %T", errs[0])
	}
	if len(cfgErr.FieldErrors) != 6 {
		t.Fatalf("expected 6 field errors, got %d: %v", len(cfgErr.FieldErrors), cfgErr.FieldErrors)
	}

	for _, sentinel := range []error{
		ErrInvalidTreePath, ErrInvalidModID, ErrInvalidLogLevel,
		ErrInvalidArchiveExtension, ErrInvalidFrameInterval,
	} {
		found := false
		for _, fe := range cfgErr.FieldErrors {
			found = found || errors.Is(fe, sentinel)
		}
		if !found {
			t.Errorf("no field error wraps %v", sentinel)
		}
	}
	if !errors.Is(cfgErr, ErrInvalidConfig) {
		t.Error("InvalidConfigError should wrap ErrInvalidConfig")
	}
}

func TestInvalidTreePathError_NamesField(t *testing.T) {
	t.Parallel()

	err := TreePath("cache").validate("cache_dir")
	if err == nil {
		t.Fatal("relative path should be rejected")
	}
	if got := err.Error(); got != `cache_dir: invalid path "cache": must be absolute inside the loader directory, e.g. "/mods"` {
		t.Errorf("unexpected message %q", got)
	}
}
