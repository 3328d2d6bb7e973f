package main

import (
	"context"
	"fmt"
	"os"

	"dev/bravebird/uiverify/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "uiverify:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
