// SPDX-License-Identifier: MPL-2.0

// Package discovery finds mods on disk and turns them into candidates.
//
// Discovery is split in three steps:
//   - Finders enumerate a search root and report paths that look like mods.
//     DirectoryFinder accepts unpacked mod directories and mounts archives.
//   - The Scanner reads one path's manifest into a Candidate.
//   - The Explorer fans every finder out, deduplicates the reported paths
//     and scans each one exactly once.
//
// File organization:
//   - candidate.go: Candidate, CandidateSet and ordering helpers
//   - finder.go: Finder contract, DirectoryFinder and IsValidMod
//   - scanner.go: Scanner
//   - explorer.go: Explorer and its Result
//   - diagnostic.go: structured diagnostics returned to callers
package discovery
