package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		slog.Error("authcore stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

// run loads configuration from .env, environment and flags (in that order) and serves until ctx done
func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("can't load .env file: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return fmt.Errorf("can't load environment: %w", err)
	}
	if err := c.ParseFlags(args); err != nil {
		return fmt.Errorf("can't parse flags: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	srv, err := NewServerApp(ctx, c)
	if err != nil {
		return fmt.Errorf("can't initialize app, sorry: %w", err)
	}
	defer srv.Close() // nolint:errcheck

	return srv.Run(ctx)
}
