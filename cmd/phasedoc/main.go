// Command phasedoc runs a phased project interview and turns the answers into documents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"phasedoc/pkg/logx"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns an exit code so deferred cleanup runs before os.Exit.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logx.Sync()

	root := newRootCmd(&cli{})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
