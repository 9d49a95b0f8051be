// SPDX-License-Identifier: MPL-2.0

// Package balloon drives the mod lifecycle for a host engine.
//
// A Balloon is built from a config.Config and owns every loader service.
// The host calls Init once, then walks the mods through
//
//	LoadMods -> InitMods -> ConnectMods -> Process... -> DisconnectMods -> ShutdownMods -> UnloadMods
//
// and finally Shutdown. Attach installs these steps on the host callback
// table so that firing the hook points is enough. A mod that fails Init or
// Connect is dropped, unless it is FIXED: other mods may hold its
// interfaces, so the sweep is aborted and the failure is fatal.
package balloon
