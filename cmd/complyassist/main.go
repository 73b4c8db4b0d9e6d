package main

import (
	"log/slog"
	"os"

	"github.com/ent0n29/complyassist/internal/cli"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if err := cli.NewRoot(logger, level).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
