package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/honganh1206/streamchat/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewCLI().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
