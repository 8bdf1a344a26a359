package main

import (
	"fmt"
	"os"

	"github.com/betbot/stockpilot/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stockpilot: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
