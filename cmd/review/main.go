package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		slog.Error("review command failed", "err", err)
		os.Exit(1)
	}
}
