// Command skinscan runs the skin condition scan service and its client
// subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/skinscan/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "skinscan:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
