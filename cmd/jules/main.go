// Command jules is a thin argument-parsing shell over pkg/jules, covering
// only the sync/query/fleet operational surface this repo owns. It does
// not implement an interactive wizard, an MCP surface, or rich terminal
// rendering beyond plain tables — those are Non-goals (spec.md section 1).
package main

import (
	"fmt"
	"os"

	"github.com/jules-labs/fleet/cmd/jules/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
