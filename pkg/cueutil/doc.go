// SPDX-License-Identifier: MPL-2.0

// Package cueutil reads JSON-with-comments documents through the CUE
// compiler and formats its errors.
//
// CUE is a superset of JSON that also accepts line comments and trailing
// commas, which is exactly the dialect mod manifests are written in:
//
//	{
//	    // core library
//	    "id": "core",
//	    "version": "1.0.0",
//	}
//
// Compile returns the root cue.Value; callers then walk it with the typed
// helpers in this package (Lookup, Str, StrList, Each) so that optional
// fields can be validated one at a time instead of failing a whole decode.
package cueutil
