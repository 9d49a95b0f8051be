// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// GOOS values balloon treats specially.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
	FreeBSD = "freebsd"
)

// ErrPluginsUnsupported is returned when mod libraries cannot be opened on
// the running system.
var ErrPluginsUnsupported = errors.New("mod libraries are not supported on this system")

// pluginSystems lists the GOOS values with -buildmode=plugin support.
var pluginSystems = []string{Linux, Darwin, FreeBSD}

// SupportsPlugins reports whether mod libraries can be opened on goos.
// Builtin mods linked into the host binary work everywhere.
func SupportsPlugins(goos string) bool {
	return slices.Contains(pluginSystems, goos)
}

// CheckPlugins returns an error wrapping ErrPluginsUnsupported when goos
// cannot open mod libraries.
func CheckPlugins(goos string) error {
	if SupportsPlugins(goos) {
		return nil
	}
	return fmt.Errorf("%w: %s (supported: %s)", ErrPluginsUnsupported, goos, strings.Join(pluginSystems, ", "))
}
