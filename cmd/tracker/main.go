package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"locatr/cmd/tracker/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewTrackerCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
