// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints. Errors can link to a Markdown guide from the issue
// catalog, which the CLI renders with glamour when a command fails.
package issue
