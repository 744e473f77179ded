// Command dispatcherd runs the chat-dispatch core: the webhook server, the
// per-group sweepers, and the /metrics endpoint, until it receives SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driverqueue/dispatcher/internal/boot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dispatcherd:", err)
		os.Exit(1)
	}
}

func run() error {
	app, err := boot.New(os.Args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
