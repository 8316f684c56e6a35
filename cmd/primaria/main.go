// Command primaria runs the Primăria municipal assistant: the HTTP API behind
// the municipality chat widgets and the CLI used to ingest documents, ask
// questions and manage the response cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/54b3r/primaria-go/cmd/primaria/commands"
)

func main() {
	// Interrupts cancel in-flight questions and ingestion runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "primaria: %v\n", err)
		os.Exit(1)
	}
}
