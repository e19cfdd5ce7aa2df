package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kgload/cmd"
	"kgload/internal/domain/kgload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(kgload.ExitCode(err))
	}
}
