// Command toolserver is a small stdio tool provider used to exercise
// toolwire end to end. It exposes calculate, get_secret_word and echo.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("TOOLSERVER_DEBUG") != "" {
		level = slog.LevelDebug
	}
	// stdout carries the protocol; everything else goes to stderr.
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	stdio := server.NewStdioServer(newServer(logger, rand.IntN))
	stdio.SetErrorLogger(slog.NewLogLogger(handler, slog.LevelError))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
