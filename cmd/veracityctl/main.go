// Command veracityctl is the operator CLI for the validator: it checks and
// merges dataset files and prints miner weights.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/veracity/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
