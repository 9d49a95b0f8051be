// SPDX-License-Identifier: MPL-2.0

// Package platform holds the operating system rules that mod ids must
// respect. A mod id names its library, log and config files, and mods are
// shared between systems, so the strictest rules (Windows) apply
// everywhere. It also knows which systems can open mod libraries at all.
package platform
