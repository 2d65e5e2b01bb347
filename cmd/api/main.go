package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ProjectForge/internal/application"
)

const build = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := application.New()
	if err := app.Start(ctx, build); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	if err := app.Wait(ctx, stop); err != nil {
		os.Exit(1)
	}
}
