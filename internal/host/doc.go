// SPDX-License-Identifier: MPL-2.0

// Package host is a stand-in for the game engine that embeds the loader.
//
// An Engine fires the hook points the way the real host does: EngineInit
// and PostReset on start, PostProcess once per frame, and PreClearAll
// followed by EngineEnd on stop. Every point fires on the same goroutine
// so handlers see the single lifecycle thread they expect.
package host
