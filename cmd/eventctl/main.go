package main

import (
	"fmt"
	"os"

	"eventdesk/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eventctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
