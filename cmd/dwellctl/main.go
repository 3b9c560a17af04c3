// Command dwellctl is the operator tool for the dwell ledger: it replays
// recorded feeds, inspects and backs up the ledger, and injects detections
// into a running tracker.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.SetPrefix("dwellctl: ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
