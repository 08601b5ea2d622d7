// Command flowkit runs, validates and serves method-dependency flows.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/flowkit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
