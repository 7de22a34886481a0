// Command stocksync queues stock writes made offline and replays them once
// connectivity returns.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/stocksync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
