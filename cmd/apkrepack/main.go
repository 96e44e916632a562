package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"apkrepack/internal/cli"
)

// main is a thin boundary: argument parsing, signal handling and exit code
// mapping live in the cli package.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := cli.Run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) && code != cli.ExitSuccess {
		code = cli.ExitInterrupted
	}
	os.Exit(code)
}
