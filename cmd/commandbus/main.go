// Command commandbus runs the command pipeline against a demo ledger domain.
//
// Usage:
//
//	commandbus run --commands 10000 --aggregates 64 --store sqlite --sqlite-path ledger.db
//	commandbus run --config pipeline.yaml --redis-addr localhost:6379
//	commandbus version
package main

import (
	"fmt"
	"os"

	"github.com/getpup/pupcommand/cmd/commandbus/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
