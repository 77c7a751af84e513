package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/exp/slog"
)

func init() {
	slog.SetDefault(slog.New(slog.HandlerOptions{
		Level: slog.LevelDebug,
	}.NewTextHandler(os.Stderr)))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
