// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"strings"
)

// invalidFileNameChars cannot appear in a Windows file name.
const invalidFileNameChars = `<>:"/\|?*`

var (
	// ErrReservedFileName is the sentinel error wrapped by FileNameError
	// for device names such as CON or LPT1.
	ErrReservedFileName = errors.New("reserved file name")
	// ErrInvalidFileName is the sentinel error wrapped by FileNameError for
	// every other rule.
	ErrInvalidFileName = errors.New("invalid file name")

	// reservedNames are device names Windows reserves regardless of
	// extension.
	reservedNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true,
		"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
		"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// FileNameError is returned by CheckFileName.
type FileNameError struct {
	Name   string
	Reason string
	err    error
}

// Error implements the error interface for FileNameError.
func (e *FileNameError) Error() string {
	return fmt.Sprintf("%q %s", e.Name, e.Reason)
}

// Unwrap returns ErrReservedFileName or ErrInvalidFileName.
func (e *FileNameError) Unwrap() error { return e.err }

// IsReservedName reports whether name is a reserved device name. Only the
// part before the first dot counts: "con.tar.gz" is reserved too.
func IsReservedName(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return reservedNames[strings.ToUpper(base)]
}

// CheckFileName returns an error when name cannot be used as a file name
// on every supported system.
func CheckFileName(name string) error {
	switch {
	case name == "":
		return &FileNameError{Name: name, Reason: "is empty", err: ErrInvalidFileName}
	case IsReservedName(name):
		return &FileNameError{Name: name, Reason: "is a reserved device name", err: ErrReservedFileName}
	case strings.ContainsAny(name, invalidFileNameChars):
		return &FileNameError{Name: name, Reason: "contains one of " + invalidFileNameChars, err: ErrInvalidFileName}
	case strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 }):
		return &FileNameError{Name: name, Reason: "contains control characters", err: ErrInvalidFileName}
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, " "):
		return &FileNameError{Name: name, Reason: "ends with a dot or a space", err: ErrInvalidFileName}
	}
	return nil
}
