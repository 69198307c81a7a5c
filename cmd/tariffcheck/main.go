// Command tariffcheck loads tariff workbaskets and runs the business rule
// checks that gate their approval.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tariffcore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tariffcheck:", err)
		os.Exit(cli.ExitCode(err))
	}
}
