// Command webhook-guard serves the webhook verification pipeline over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("webhook-guard", flag.ContinueOnError)
	configPath := flags.String("config", envOr("WEBHOOK_GUARD_CONFIG", "webhook-guard.yaml"), "path to the YAML config file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, *configPath, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webhook-guard: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		a.logger.Error("webhook guard stopped", "error", err.Error())
		return 1
	}
	return 0
}

func envOr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
