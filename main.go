// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/balloon/balloon/cmd/balloon"

func main() {
	cmd.Execute()
}
