// Command ailab trains runs locally and manages the built-in dataset catalog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/ailab/internal/platform/env"
	"github.com/animus-labs/ailab/internal/platform/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "ailab",
		Short:         "local training and dataset tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(trainCmd(), builtinCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ailab:", err)
		os.Exit(1)
	}
}

// cliLogger logs to stderr so stdout carries only command output.
func cliLogger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(env.String("AILAB_LOG_LEVEL", "warn"))
	if err != nil {
		return nil, err
	}
	return logging.NewWithWriter(os.Stderr, "ailab", level), nil
}
