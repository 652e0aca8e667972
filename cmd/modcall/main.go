package main

import (
	"os"

	"github.com/roach88/modcall/internal/cli"
)

func main() {
	// Commands report their own errors; only the exit code is left.
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
