package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/funvibe/cxbridge/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, os.Exit, os.Stdout, os.Stderr, os.Args[1:]...); err != nil {
		fmt.Fprintf(os.Stderr, "cxbridge: %v\n", err)
		stop()
		os.Exit(1)
	}
}
